// Package transport implements the framed, checksummed line transport
// between the controller and the host. Reads are non-blocking polls
// into a bounded receive queue; writes go through a bounded, paced
// transmit queue so a chatty controller can never swamp the link.
package transport

import (
	"errors"
	"io"
	"strings"
	"time"

	"mountctl/pkg/clock"
	"mountctl/pkg/log"
	"mountctl/pkg/protocol"
)

const (
	// rxQueueCap bounds the receive queue; newest lines are dropped
	// on overflow.
	rxQueueCap = 10

	// txQueueCap bounds the transmit queue. On overflow the
	// second-oldest entry is dropped: the oldest may already be
	// partially transmitted.
	txQueueCap = 20

	// maxPollReads caps the reads performed by a single PollInput
	// call so a flood of input cannot stall the control loop.
	maxPollReads = 20

	defaultWriteChunk   = 32
	defaultWriteGap     = 100 * time.Millisecond
	defaultHeartbeatGap = 30 * time.Second
)

// ErrNoChannel is returned when the transport is constructed without a
// serial channel. This is the one fatal error in the controller: with
// no channel there is no way to report anything else.
var ErrNoChannel = errors.New("transport: no serial channel")

// StatusSink is notified of transport activity so the status LED can
// flash on traffic. A nil sink is valid.
type StatusSink interface {
	Task(task string)
}

// Transport drives one serial channel. All methods are called from the
// single control-loop goroutine; no locking is needed.
type Transport struct {
	conn   io.ReadWriter
	clk    *clock.Clock
	logger *log.Logger
	led    StatusSink

	writeChunk   int
	writeGap     time.Duration
	heartbeatGap time.Duration

	rxQueue       []string
	receivingLine strings.Builder
	txQueue       []string

	lastTx time.Time
	lastRx time.Time
	now    func() time.Time

	// Counters reported in "comms status" lines.
	linesRead    int
	charsRead    int
	linesWritten int
	charsWritten int
	rxErrors     int
	writeDrops   int
	readDrops    int

	// Mirror, if set, observes every queued outbound line. Used by
	// the diagnostics monitor.
	Mirror func(line string)
}

// Config holds transport tuning. Zero values select the defaults.
type Config struct {
	WriteChunk   int
	WriteGap     time.Duration
	HeartbeatGap time.Duration
}

// New creates a transport over the given channel.
func New(conn io.ReadWriter, clk *clock.Clock, logger *log.Logger, cfg Config) (*Transport, error) {
	if conn == nil {
		return nil, ErrNoChannel
	}
	if cfg.WriteChunk <= 0 {
		cfg.WriteChunk = defaultWriteChunk
	}
	if cfg.WriteGap <= 0 {
		cfg.WriteGap = defaultWriteGap
	}
	if cfg.HeartbeatGap <= 0 {
		cfg.HeartbeatGap = defaultHeartbeatGap
	}
	t := &Transport{
		conn:         conn,
		clk:          clk,
		logger:       logger,
		writeChunk:   cfg.WriteChunk,
		writeGap:     cfg.WriteGap,
		heartbeatGap: cfg.HeartbeatGap,
		now:          time.Now,
	}
	t.lastTx = t.now()
	t.lastRx = t.now()
	return t, nil
}

// SetStatusSink attaches the status LED.
func (t *Transport) SetStatusSink(led StatusSink) { t.led = led }

// SetTimeSource replaces the pacing clock, for tests.
func (t *Transport) SetTimeSource(now func() time.Time) {
	t.now = now
	t.lastTx = now()
	t.lastRx = now()
}

func (t *Transport) task(name string) {
	if t.led != nil {
		t.led.Task(name)
	}
}

// PollInput performs a bounded, non-blocking drain of the serial
// channel into the receive queue. Complete lines are queued; a partial
// line is held until its newline arrives. Returns the number of bytes
// consumed.
func (t *Transport) PollInput() int {
	total := 0
	buf := make([]byte, 256)
	for reads := 0; reads < maxPollReads; reads++ {
		n, err := t.conn.Read(buf)
		if n == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				t.logger.Debug("serial read: %v", err)
			}
			break
		}
		t.task("coms")
		total += n
		t.charsRead += n
		for _, b := range buf[:n] {
			t.receivingLine.WriteByte(b)
			if b != '\n' {
				continue
			}
			t.linesRead++
			line := strings.TrimSpace(t.receivingLine.String())
			t.receivingLine.Reset()
			if line == "" {
				continue
			}
			if len(t.rxQueue) < rxQueueCap {
				t.rxQueue = append(t.rxQueue, line)
			} else {
				t.readDrops++
				t.logger.Warn("receive queue full, dropped: %s", line)
			}
		}
		t.lastRx = t.now()
	}
	if total > 0 {
		t.task("idle")
	}
	return total
}

// Read returns the next complete, checksum-validated line with its
// checksum and sequence suffixes removed. Lines failing validation are
// counted and skipped, never surfaced. The second return is false when
// no line is available.
func (t *Transport) Read() (string, bool) {
	t.PollInput()
	for len(t.rxQueue) > 0 {
		line := t.rxQueue[0]
		t.rxQueue = t.rxQueue[1:]
		if !protocol.ValidateChecksum(line) {
			t.rxErrors++
			t.logger.Warn("rejected checksum: %s", line)
			continue
		}
		line = protocol.StripChecksum(line)
		line = protocol.StripSequence(line)
		return line, true
	}
	return "", false
}

// Write queues a line for transmission, adding the checksum suffix.
// The queue is bounded: when full, the second-oldest entry is dropped
// and counted (the head may be mid-transmission and is never dropped).
func (t *Transport) Write(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	for len(t.txQueue) >= txQueueCap {
		t.txQueue = append(t.txQueue[:1], t.txQueue[2:]...)
		t.writeDrops++
	}
	t.txQueue = append(t.txQueue, protocol.AddChecksum(line))
	if t.Mirror != nil {
		t.Mirror(line)
	}
	t.logger.Debug("queueing: %s", line)
}

// WritePoll drains the transmit queue in fixed-size chunks, no more
// often than the inter-write gap, and only when the receive side is
// idle: receive always pre-empts transmit. After 30 seconds of
// transmit silence a heartbeat line is queued.
func (t *Transport) WritePoll() {
	if t.PollInput() > 0 {
		return
	}
	sinceTx := t.now().Sub(t.lastTx)
	if sinceTx < t.writeGap {
		return
	}
	if sinceTx > t.heartbeatGap {
		t.heartbeat()
	}
	if len(t.txQueue) == 0 {
		return
	}
	t.task("coms")
	var chunk string
	if len(t.txQueue[0]) > t.writeChunk {
		chunk = t.txQueue[0][:t.writeChunk]
		t.txQueue[0] = t.txQueue[0][t.writeChunk:]
	} else {
		chunk = t.txQueue[0] + "\n"
		t.txQueue = t.txQueue[1:]
		t.linesWritten++
	}
	if n, err := t.conn.Write([]byte(chunk)); err != nil {
		t.logger.Warn("serial write: %v", err)
	} else {
		t.charsWritten += n
	}
	t.lastTx = t.now()
	t.task("idle")
}

// heartbeat queues a keep-alive carrying both the logical and the
// real-time clock values, so the host can audit clock drift.
func (t *Transport) heartbeat() {
	t.Write("controller heartbeat " + t.clk.NowString() + " on " + t.clk.RealNowString())
}

// Reset flushes both queues and replays the startup banner. Called at
// session start and on a host-requested reset.
func (t *Transport) Reset(banner []string) {
	t.txQueue = nil
	t.rxQueue = nil
	// Push junk through the line to flush any noise on the far side.
	for i := 0; i < 2; i++ {
		t.Write(strings.Repeat("#", 20))
	}
	for _, line := range banner {
		t.Write(line)
	}
	t.Write("controller started")
	t.Write("controller version " + protocol.Version)
}

// ReceiveAge returns how long ago the last byte was received.
func (t *Transport) ReceiveAge() time.Duration {
	return t.now().Sub(t.lastRx)
}

// QueueLen returns the transmit queue depth.
func (t *Transport) QueueLen() int { return len(t.txQueue) }

// Drain pushes queued output until the queue empties or maxPolls
// write polls have run. Used during shutdown; pacing still applies.
func (t *Transport) Drain(maxPolls int) {
	for i := 0; i < maxPolls && len(t.txQueue) > 0; i++ {
		t.WritePoll()
		time.Sleep(time.Millisecond)
	}
}

// Snapshot is the counter set reported in "comms status" lines.
type Snapshot struct {
	RxErrors     int
	LinesRead    int
	CharsRead    int
	LinesWritten int
	CharsWritten int
	WriteDrops   int
	ReadDrops    int
	ReceiveAgeMS int64
	QueueLen     int
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() Snapshot {
	return Snapshot{
		RxErrors:     t.rxErrors,
		LinesRead:    t.linesRead,
		CharsRead:    t.charsRead,
		LinesWritten: t.linesWritten,
		CharsWritten: t.charsWritten,
		WriteDrops:   t.writeDrops,
		ReadDrops:    t.readDrops,
		ReceiveAgeMS: t.ReceiveAge().Milliseconds(),
		QueueLen:     len(t.txQueue),
	}
}
