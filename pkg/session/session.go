// Package session holds the controller-wide state machine: move
// permissions derived from motor and clock readiness, the
// communications failsafe that flushes trajectories when the host goes
// quiet, and the periodic status reports the host steers by.
package session

import (
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"mountctl/pkg/clock"
	"mountctl/pkg/gpio"
	"mountctl/pkg/log"
	"mountctl/pkg/motor"
	"mountctl/pkg/protocol"
	"mountctl/pkg/transport"
)

// trajectorySafetyWindow is how long a valid trajectory may keep
// driving the mount with no traffic from the host before it is flushed
// for safety. The host resends trajectories when it recovers.
const trajectorySafetyWindow = 2 * time.Minute

// ErrorCounter tallies trapped errors for the session status line and
// paints the status LED red when one is raised.
type ErrorCounter struct {
	count int
	led   *gpio.StatusLED
}

// NewErrorCounter creates a counter. led may be nil.
func NewErrorCounter(led *gpio.StatusLED) *ErrorCounter {
	return &ErrorCounter{led: led}
}

// Raise records one trapped error.
func (e *ErrorCounter) Raise() {
	e.count++
	if e.led != nil {
		e.led.Task("error")
	}
}

// Count returns the errors raised so far.
func (e *ErrorCounter) Count() int { return e.count }

// Reset clears the tally.
func (e *ErrorCounter) Reset() { e.count = 0 }

// Session ties the motors, clock and transport together and owns the
// Quit flag the control loop watches.
type Session struct {
	ID     uuid.UUID
	Quit   bool
	Errors *ErrorCounter

	clk    *clock.Clock
	tr     *transport.Transport
	relay  *log.Relay
	motors []*motor.Motor

	start time.Time

	// RemoteControl: every motor configured, host may command moves.
	// AutonomousControl: additionally the clock is synchronised and
	// every trajectory is valid, so the mount may drive itself.
	RemoteControl     bool
	AutonomousControl bool

	safetyWindow  time.Duration
	safetyFlushes int
	failsafeLatch bool
}

// New creates a session over the given motors.
func New(clk *clock.Clock, tr *transport.Transport, relay *log.Relay, errors *ErrorCounter, motors []*motor.Motor) *Session {
	return &Session{
		ID:           uuid.New(),
		Errors:       errors,
		clk:          clk,
		tr:           tr,
		relay:        relay,
		motors:       motors,
		start:        time.Now(),
		safetyWindow: trajectorySafetyWindow,
	}
}

// Motors returns the session's motors.
func (s *Session) Motors() []*motor.Motor { return s.motors }

// FindMotor returns the named motor, or nil.
func (s *Session) FindMotor(name string) *motor.Motor {
	for _, m := range s.motors {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// AliveSeconds is the session age on the unsynchronised local clock.
func (s *Session) AliveSeconds() int64 {
	return int64(time.Since(s.start).Seconds())
}

// MovePermission refreshes the remote and autonomous control flags
// from motor configuration, clock sync and trajectory validity. Called
// after any event that could change them.
func (s *Session) MovePermission() {
	result := true
	for _, m := range s.motors {
		if !m.Configured() {
			result = false
		}
	}
	s.RemoteControl = result
	if !s.clk.Synchronized() {
		result = false
	}
	for _, m := range s.motors {
		if !m.Trajectory().Valid() {
			result = false
		}
	}
	s.AutonomousControl = result
}

// SendMotorStatus sends the status of the named motor.
func (s *Session) SendMotorStatus(name string, immediate bool, codes string) {
	for _, m := range s.motors {
		if m.Name() == name {
			m.SendStatus(immediate, codes)
		}
	}
}

// TrajectorySafety flushes every motor's trajectory when nothing has
// been received from the host for the safety window. Without this a
// host crash would leave the mount following a stale path for as long
// as the trajectory lasts. The latch keeps the flush and its log line
// from repeating while the link stays down.
func (s *Session) TrajectorySafety() {
	elapsed := s.tr.ReceiveAge()
	failsafe := false
	if elapsed > s.safetyWindow {
		for _, m := range s.motors {
			if m.Trajectory().Valid() {
				failsafe = true
			}
		}
	}
	if failsafe && !s.failsafeLatch {
		s.relay.Logf("trajectory safety: %dms since last receive, flushing", elapsed.Milliseconds())
		s.failsafeLatch = true
		s.safetyFlushes++
		for _, m := range s.motors {
			m.ClearTrajectory()
		}
	}
	if !failsafe {
		s.failsafeLatch = false
	}
}

// SafetyFlushes returns how many times the failsafe has fired.
func (s *Session) SafetyFlushes() int { return s.safetyFlushes }

// SendSessionStatus reports the session, comms and runtime state as
// three separate lines. Small messages survive the serial link better
// than one large one.
func (s *Session) SendSessionStatus(codes string) {
	s.tr.Write(fmt.Sprintf("session status %s %s %s %s %d %d %s %d",
		s.clk.NowString(),
		protocol.FormatBool(s.clk.Synchronized()),
		protocol.FormatBool(s.AutonomousControl),
		protocol.FormatBool(s.RemoteControl),
		s.AliveSeconds(),
		s.safetyFlushes,
		codes,
		s.Errors.Count()))
	st := s.tr.Stats()
	s.tr.Write(fmt.Sprintf("comms status %s %d %d %d %d %d %d %d %s",
		s.clk.NowString(),
		st.RxErrors,
		st.CharsRead,
		st.CharsWritten,
		st.WriteDrops,
		st.ReceiveAgeMS,
		st.ReadDrops,
		st.QueueLen,
		codes))
	s.sendCPUStatus()
}

// sendCPUStatus reports process runtime figures in place of the bare
// metal readings a microcontroller build would supply.
func (s *Session) sendCPUStatus() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.tr.Write(fmt.Sprintf("cpu status %s %s %d %d %d %d",
		s.clk.NowString(),
		runtime.GOARCH,
		runtime.NumGoroutine(),
		ms.HeapAlloc,
		ms.HeapSys-ms.HeapAlloc,
		ms.NumGC))
}

// AutoMoveMotors drives each motor toward its trajectory position when
// autonomous control is permitted. Returns false if any motor could
// not take a target.
func (s *Session) AutoMoveMotors() bool {
	s.MovePermission()
	if !s.AutonomousControl {
		return false
	}
	overall := true
	for _, m := range s.motors {
		if !m.TargetFromTrajectory() {
			s.relay.Log("auto move", m.Name(), "failed: no target from trajectory")
			overall = false
			continue
		}
		if m.TargetPosition() != m.CurrentPosition() {
			m.Move()
		}
	}
	return overall
}
