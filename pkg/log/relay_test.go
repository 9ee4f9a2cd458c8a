package log

import (
	"strings"
	"testing"
)

type captureWriter struct {
	lines []string
}

func (c *captureWriter) Write(line string) { c.lines = append(c.lines, line) }

func newTestRelay() *Relay {
	return NewRelay(func() string { return "20260831120000" }, nil)
}

func TestRelayPrefixesLines(t *testing.T) {
	r := newTestRelay()
	w := &captureWriter{}
	r.Log("motor", "azimuth", "stopped")
	r.SendAll(w)
	if len(w.lines) != 1 {
		t.Fatalf("sent %d lines, want 1", len(w.lines))
	}
	want := "log :20260831120000:motor azimuth stopped"
	if w.lines[0] != want {
		t.Errorf("line = %q, want %q", w.lines[0], want)
	}
}

func TestRelayBufferBound(t *testing.T) {
	r := newTestRelay()
	for i := 0; i < relayMaxLines+7; i++ {
		r.Logf("line %d", i)
	}
	if r.Pending() != relayMaxLines {
		t.Errorf("Pending = %d, want %d", r.Pending(), relayMaxLines)
	}
	if r.Overflows() != 7 {
		t.Errorf("Overflows = %d, want 7", r.Overflows())
	}
}

func TestRelaySendOneOldestFirst(t *testing.T) {
	r := newTestRelay()
	w := &captureWriter{}
	r.Log("first")
	r.Log("second")
	r.SendOne(w)
	if len(w.lines) != 1 || !strings.HasSuffix(w.lines[0], ":first") {
		t.Errorf("SendOne sent %v, want the oldest line", w.lines)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending = %d after SendOne, want 1", r.Pending())
	}
}

func TestRelaySendCheckFlushesWhenLarge(t *testing.T) {
	r := newTestRelay()
	w := &captureWriter{}

	r.Log("short")
	r.SendCheck(w, false)
	if len(w.lines) != 0 {
		t.Error("SendCheck flushed a small buffer without force")
	}

	r.SendCheck(w, true)
	if len(w.lines) != 1 {
		t.Error("forced SendCheck did not flush")
	}

	w.lines = nil
	r.Log(strings.Repeat("x", relayFlushBytes+1))
	r.SendCheck(w, false)
	if len(w.lines) != 1 {
		t.Error("SendCheck did not flush a large buffer")
	}
}
