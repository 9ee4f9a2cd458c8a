package transport

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"mountctl/pkg/clock"
	"mountctl/pkg/log"
	"mountctl/pkg/protocol"
)

// fakeConn is an in-memory serial channel. Reads drain the rx buffer
// in small chunks the way a UART FIFO would.
type fakeConn struct {
	rx []byte
	tx []byte
}

func (f *fakeConn) Read(buf []byte) (int, error) {
	if len(f.rx) == 0 {
		return 0, nil
	}
	n := copy(buf, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeConn) Write(buf []byte) (int, error) {
	f.tx = append(f.tx, buf...)
	return len(buf), nil
}

func (f *fakeConn) push(line string) {
	f.rx = append(f.rx, []byte(line+"\n")...)
}

func newTestTransport(t *testing.T) (*Transport, *fakeConn, *int64) {
	t.Helper()
	conn := &fakeConn{}
	logger := log.New("test")
	logger.SetLevel(log.ERROR)
	clk := clock.New(nil)
	tr, err := New(conn, clk, logger, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Deterministic pacing clock.
	now := int64(0)
	tr.SetTimeSource(func() time.Time { return time.Unix(0, now) })
	return tr, conn, &now
}

func TestNewRequiresChannel(t *testing.T) {
	if _, err := New(nil, clock.New(nil), log.New("test"), Config{}); err != ErrNoChannel {
		t.Errorf("New(nil) error = %v, want ErrNoChannel", err)
	}
}

func TestReadValidLine(t *testing.T) {
	tr, conn, _ := newTestTransport(t)
	conn.push(protocol.AddChecksum("goto azimuth 270.0 [5]"))

	line, ok := tr.Read()
	if !ok {
		t.Fatal("Read returned no line")
	}
	if line != "goto azimuth 270.0" {
		t.Errorf("Read = %q, want suffixes stripped", line)
	}
}

func TestReadRejectsBadChecksum(t *testing.T) {
	tr, conn, _ := newTestTransport(t)
	conn.push("goto azimuth 270.0|beef")
	conn.push(protocol.AddChecksum("stop"))

	line, ok := tr.Read()
	if !ok || line != "stop" {
		t.Fatalf("Read = %q, %v; want the valid line", line, ok)
	}
	if got := tr.Stats().RxErrors; got != 1 {
		t.Errorf("RxErrors = %d, want 1", got)
	}
}

func TestReceiveQueueBound(t *testing.T) {
	tr, conn, _ := newTestTransport(t)
	for i := 0; i < rxQueueCap+5; i++ {
		conn.push(protocol.AddChecksum(fmt.Sprintf("line %d", i)))
	}
	tr.PollInput()
	if got := tr.Stats().ReadDrops; got != 5 {
		t.Errorf("ReadDrops = %d, want 5", got)
	}
	// The oldest lines survive; the newest were dropped.
	line, ok := tr.Read()
	if !ok || line != "line 0" {
		t.Errorf("first queued line = %q, %v; want \"line 0\"", line, ok)
	}
}

func TestTransmitQueueDropsSecondOldest(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	for i := 0; i < txQueueCap+5; i++ {
		tr.Write(fmt.Sprintf("line %d", i))
	}
	st := tr.Stats()
	if st.WriteDrops != 5 {
		t.Errorf("WriteDrops = %d, want 5", st.WriteDrops)
	}
	if st.QueueLen != txQueueCap {
		t.Errorf("QueueLen = %d, want %d", st.QueueLen, txQueueCap)
	}
	// The head is never dropped: it may already be mid-transmission.
	if !strings.HasPrefix(tr.txQueue[0], "line 0|") {
		t.Errorf("queue head = %q, want line 0 preserved", tr.txQueue[0])
	}
}

func TestWritePollChunksOutput(t *testing.T) {
	tr, conn, now := newTestTransport(t)
	long := strings.Repeat("x", 50)
	tr.Write(long)

	*now += int64(defaultWriteGap) + 1
	tr.WritePoll()
	if len(conn.tx) != defaultWriteChunk {
		t.Fatalf("first chunk = %d bytes, want %d", len(conn.tx), defaultWriteChunk)
	}

	// A second poll inside the gap sends nothing.
	tr.WritePoll()
	if len(conn.tx) != defaultWriteChunk {
		t.Error("chunk sent before the inter-write gap elapsed")
	}

	*now += int64(defaultWriteGap) + 1
	tr.WritePoll()
	sent := string(conn.tx)
	if !strings.HasPrefix(sent, long) {
		t.Errorf("transmitted %q, want it to start with the payload", sent)
	}
	if !strings.HasSuffix(sent, "\n") {
		t.Error("completed line not newline terminated")
	}
}

func TestReceivePreemptsTransmit(t *testing.T) {
	tr, conn, now := newTestTransport(t)
	tr.Write("pending line")
	conn.push(protocol.AddChecksum("stop"))

	*now += int64(defaultWriteGap) + 1
	tr.WritePoll()
	if len(conn.tx) != 0 {
		t.Error("transmitted while receive data was pending")
	}

	// With the input drained, transmission resumes.
	*now += int64(defaultWriteGap) + 1
	tr.WritePoll()
	if len(conn.tx) == 0 {
		t.Error("no transmission after input drained")
	}
}

func TestHeartbeatAfterSilence(t *testing.T) {
	tr, conn, now := newTestTransport(t)
	*now += int64(defaultHeartbeatGap) + int64(time.Second)
	tr.WritePoll()
	// The heartbeat is queued and its first chunk transmitted in the
	// same poll.
	if len(conn.tx) == 0 {
		t.Fatal("nothing transmitted after heartbeat gap")
	}
	if !strings.HasPrefix(string(conn.tx), "controller heartbeat ") {
		t.Errorf("transmitted %q, want a heartbeat", string(conn.tx))
	}
}

func TestResetReplaysBanner(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	tr.Write("stale")
	tr.Reset([]string{"# session abc"})

	var lines []string
	for _, q := range tr.txQueue {
		lines = append(lines, protocol.StripChecksum(q))
	}
	want := []string{
		strings.Repeat("#", 20),
		strings.Repeat("#", 20),
		"# session abc",
		"controller started",
		"controller version " + protocol.Version,
	}
	if len(lines) != len(want) {
		t.Fatalf("queue after reset = %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestPartialLineHeldUntilNewline(t *testing.T) {
	tr, conn, _ := newTestTransport(t)
	framed := protocol.AddChecksum("stop")
	conn.rx = append(conn.rx, []byte(framed[:3])...)

	if _, ok := tr.Read(); ok {
		t.Error("Read returned a partial line")
	}
	conn.rx = append(conn.rx, []byte(framed[3:]+"\n")...)
	line, ok := tr.Read()
	if !ok || line != "stop" {
		t.Errorf("Read = %q, %v after completion; want \"stop\"", line, ok)
	}
}
