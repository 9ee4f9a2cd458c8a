package log

import (
	"fmt"
	"strings"
)

// relayMaxLines bounds the relay buffer; the controller drops new log
// lines rather than grow without limit when the host is not draining.
const relayMaxLines = 20

// relayFlushBytes is the buffered-byte threshold above which SendCheck
// flushes the buffer to the host.
const relayFlushBytes = 80

// LineWriter queues one protocol line for transmission to the host.
type LineWriter interface {
	Write(line string)
}

// Relay buffers log lines and forwards them to the host as "log :"
// protocol lines. The buffer is bounded; overflows are counted and the
// newest lines are discarded until the buffer drains.
type Relay struct {
	lines      []string
	bufferSize int
	overflows  int
	timestamp  func() string
	echo       *Logger
}

// NewRelay creates a relay. timestamp supplies the logical-clock
// timestamp prefixed to each line; echo, if non-nil, mirrors every
// relayed line to the local logger.
func NewRelay(timestamp func() string, echo *Logger) *Relay {
	return &Relay{timestamp: timestamp, echo: echo}
}

// Log appends a line to the relay buffer.
func (r *Relay) Log(args ...interface{}) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	msg := strings.TrimSpace(strings.Join(parts, " "))
	line := r.timestamp() + ":" + msg
	if r.echo != nil {
		r.echo.Debug("%s", msg)
	}
	if len(r.lines) >= relayMaxLines {
		r.overflows++
		return
	}
	r.lines = append(r.lines, line)
	r.bufferSize += len(line)
}

// Logf appends a formatted line to the relay buffer.
func (r *Relay) Logf(format string, args ...interface{}) {
	r.Log(fmt.Sprintf(format, args...))
}

// SendAll flushes every buffered line to the host.
func (r *Relay) SendAll(w LineWriter) {
	for _, line := range r.lines {
		w.Write("log :" + line)
	}
	r.lines = nil
	r.bufferSize = 0
}

// SendOne flushes a single buffered line, oldest first.
func (r *Relay) SendOne(w LineWriter) {
	if len(r.lines) == 0 {
		return
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	r.bufferSize -= len(line)
	w.Write("log :" + line)
}

// SendCheck flushes the buffer when it has grown large enough to be
// worth a transmission, or unconditionally when force is set.
func (r *Relay) SendCheck(w LineWriter, force bool) {
	if r.bufferSize > relayFlushBytes || force {
		r.SendAll(w)
	}
}

// Pending returns the number of buffered lines.
func (r *Relay) Pending() int {
	return len(r.lines)
}

// Overflows returns how many lines have been dropped due to a full
// buffer.
func (r *Relay) Overflows() int {
	return r.overflows
}
