// Package clock maintains a logical clock loosely synchronised with
// the host. The host supplies timestamps in its messages; the clock
// keeps a forward-only offset from the local real-time clock so the
// controller's idea of "now" can only be nudged ahead, never back.
package clock

import (
	"time"

	"mountctl/pkg/log"
	"mountctl/pkg/protocol"
)

// resyncJump is the local-clock jump that indicates an external tool
// re-synchronised the hardware clock, making the manual offset stale.
const resyncJump = 3600

// Clock derives logical time from the local clock plus a forward-only
// offset. Sub-second precision comes from the monotonic counter,
// re-anchored whenever the integer second rolls over.
type Clock struct {
	now  func() time.Time // real-time source, replaceable in tests
	mono func() int64     // monotonic nanosecond counter

	timeDelta    int64
	synchronized bool
	prevTime     int64

	currSec  int64
	anchorNS int64

	logger *log.Logger
}

// New creates a clock reading the system time.
func New(logger *log.Logger) *Clock {
	start := time.Now()
	c := &Clock{
		now:    time.Now,
		mono:   func() int64 { return int64(time.Since(start)) },
		logger: logger,
	}
	c.prevTime = c.real()
	c.currSec = c.real()
	c.anchorNS = c.mono()
	return c
}

// NewWithSource creates a clock with explicit time sources, for tests.
func NewWithSource(now func() time.Time, mono func() int64, logger *log.Logger) *Clock {
	c := &Clock{now: now, mono: mono, logger: logger}
	c.prevTime = c.real()
	c.currSec = c.real()
	c.anchorNS = c.mono()
	return c
}

func (c *Clock) real() int64 {
	return c.now().Unix()
}

// RealNow returns the local real-time clock in epoch seconds, without
// the host offset. Used for alive-time and timers.
func (c *Clock) RealNow() int64 {
	return c.real()
}

// Now returns the logical time in epoch seconds. It also watches for
// external re-synchronisation of the local clock: a forward jump of
// more than an hour clears the offset and the synchronised flag.
func (c *Clock) Now() int64 {
	now := c.real()
	c.checkTimeDelta(now)
	return now + c.timeDelta
}

func (c *Clock) checkTimeDelta(now int64) {
	if now-c.prevTime > resyncJump {
		if c.logger != nil {
			c.logger.Warn("local clock jumped %ds; clearing offset and resync flag", now-c.prevTime)
		}
		c.timeDelta = 0
		c.synchronized = false
	}
	c.prevTime = now
}

// Synchronized reports whether the clock has been set from a host
// timestamp since startup (or since the last local-clock jump).
func (c *Clock) Synchronized() bool {
	return c.synchronized
}

// SetFrom sets the offset so logical time equals the supplied epoch
// seconds. The offset is never negative: a host timestamp behind the
// local clock leaves logical time at local time.
func (c *Clock) SetFrom(sec int64) {
	delta := sec - c.real()
	if delta < 0 {
		delta = 0
	}
	c.timeDelta = delta
	c.synchronized = true
}

// SetFromString sets the clock from a YYYYMMDDHHMMSS timestamp.
func (c *Clock) SetFromString(ts string) error {
	sec, err := protocol.ParseTime(ts)
	if err != nil {
		return err
	}
	c.SetFrom(sec)
	return nil
}

// UpdateFrom nudges the clock forward if the supplied timestamp is
// strictly ahead of the current logical time. It never moves the clock
// backward. Returns true if the clock was adjusted.
func (c *Clock) UpdateFrom(sec int64) bool {
	if sec <= c.Now() {
		return false
	}
	c.SetFrom(sec)
	return true
}

// UpdateFromString is UpdateFrom for a wire timestamp. Parse failures
// leave the clock unchanged.
func (c *Clock) UpdateFromString(ts string) (bool, error) {
	sec, err := protocol.ParseTime(ts)
	if err != nil {
		return false, err
	}
	return c.UpdateFrom(sec), nil
}

// NowString returns the logical time as a wire timestamp.
func (c *Clock) NowString() string {
	return protocol.FormatTime(c.Now())
}

// RealNowString returns the unadjusted local time as a wire timestamp.
func (c *Clock) RealNowString() string {
	return protocol.FormatTime(c.real())
}

// NowFractional returns the logical time split into whole seconds and
// a fraction in [0.0, 1.0). The fraction is measured on the monotonic
// counter from the moment the current second was first observed.
func (c *Clock) NowFractional() (int64, float64) {
	for {
		for c.Now() != c.currSec {
			c.anchorNS = c.mono()
			c.currSec = c.Now()
		}
		frac := float64(c.mono()-c.anchorNS) / 1e9
		if frac >= 0 && frac < 1.0 {
			return c.currSec, frac
		}
		// The second rolled over while measuring; re-anchor and retry.
		c.anchorNS = c.mono()
		if frac >= 1.0 {
			c.currSec = c.Now()
		}
	}
}
