package clock

// Timer is a repeating event timer driven by the local real-time
// clock. Due reports expiry and re-arms the timer on a fixed grid, so
// a slow poll loop does not accumulate drift.
type Timer struct {
	name    string
	repeat  int64
	nextDue int64
	clk     *Clock
}

// NewTimer creates a timer firing every repeat seconds. A non-zero
// offset schedules the first event at now+offset instead of
// now+repeat. Repeat is clamped to a minimum of one second.
func NewTimer(clk *Clock, name string, repeat, offset int64) *Timer {
	if repeat < 1 {
		repeat = 1
	}
	t := &Timer{name: name, repeat: repeat, clk: clk}
	if offset != 0 {
		t.nextDue = clk.RealNow() + offset
	} else {
		t.nextDue = clk.RealNow() + repeat
	}
	return t
}

// Period returns the repeat interval in seconds.
func (t *Timer) Period() int64 {
	return t.repeat
}

// SetPeriod changes the repeat interval and restarts the timer.
func (t *Timer) SetPeriod(repeat int64) {
	if repeat < 1 {
		repeat = 1
	}
	t.repeat = repeat
	t.Reset()
}

// Reset restarts the timer from now.
func (t *Timer) Reset() {
	t.nextDue = t.clk.RealNow() + t.repeat
}

// Remaining returns the seconds left until the next event; negative if
// overdue.
func (t *Timer) Remaining() int64 {
	return t.nextDue - t.clk.RealNow()
}

// Due reports whether the timer has expired and, if so, re-arms it at
// the next whole multiple of the repeat interval in the future. If the
// local clock moved backward far enough that the remaining time
// exceeds the repeat interval, the timer is reset instead.
func (t *Timer) Due() bool {
	remaining := t.Remaining()
	if remaining > t.repeat {
		t.Reset()
		return false
	}
	if remaining > 0 {
		return false
	}
	t.advance()
	return true
}

func (t *Timer) advance() {
	now := t.clk.RealNow()
	for t.nextDue <= now {
		gap := (now-t.nextDue)/t.repeat + 1
		t.nextDue += t.repeat * gap
	}
}
