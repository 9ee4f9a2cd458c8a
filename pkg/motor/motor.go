// Package motor implements the per-axis stepper motor controller:
// configuration, position tracking in steps, target-seeking moves with
// an acceleration ramp, the full-step slew fast path, fault-pin
// monitoring and periodic status reporting.
package motor

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"mountctl/pkg/clock"
	"mountctl/pkg/gpio"
	"mountctl/pkg/log"
	"mountctl/pkg/protocol"
	"mountctl/pkg/trajectory"
)

// Comms is the slice of the transport a motor needs: queueing status
// lines and keeping the serial link serviced during long moves.
type Comms interface {
	Write(line string)
	PollInput() int
	WritePoll()
}

// Pins groups the driver control pins for one axis. Mode and
// direction pins may be shared between axes on the board; that is the
// wiring's business, not ours.
type Pins struct {
	Step      *gpio.Pin
	Direction *gpio.Pin
	Mode0     *gpio.Pin
	Mode1     *gpio.Pin
	Mode2     *gpio.Pin
	Enable    *gpio.Pin
	Fault     *gpio.Pin
}

// Default speed profile, overridable per axis by the host.
const (
	defaultFastTime   = 0.0005
	defaultSlowTime   = 0.05
	defaultAccelDelta = 0.003

	defaultStatusPeriod = 10

	// largeMoveSteps is the move size beyond which the on-target flag
	// is dropped for the duration of the move.
	largeMoveSteps = 100

	// slewTolerance is how close (in full-step multiples) the slew
	// fast path gets before reverting to microstepping.
	slewTolerance = 100
)

// Motor is the state machine for one axis. It exclusively owns its
// trajectory; all access is from the single control-loop goroutine.
type Motor struct {
	name  string
	clk   *clock.Clock
	relay *log.Relay
	comms Comms
	led   *gpio.StatusLED
	pins  Pins
	sleep func(time.Duration)
	vmot  func() int

	traj *trajectory.Trajectory

	motorEnabled    bool
	motorConfigured bool
	sendStatus      bool
	statusTimer     *clock.Timer

	currentPosition   int
	targetPosition    int
	requestedPosition int
	hasRequested      bool
	onTarget          bool

	fastTime   float64
	slowTime   float64
	accelDelta float64
	waitTime   float64

	orientation int
	stepDir     int
	lastStepDir int

	// Reserved: declared by the wire protocol but not applied to any
	// move calculation.
	backlashAngle float64
	driftSteps    int

	gearRatio        float64
	motorStepsPerRev int
	axisStepsPerRev  int

	microMode          [3]bool
	slewMode           [3]bool
	slewMotor          bool
	slewStepMultiplier int

	minAngle      float64
	maxAngle      float64
	restAngle     float64
	minPosition   int
	maxPosition   int
	restPosition  int
	limitPosition int
	hasLimit      bool

	faultSensitive bool
	faultDetected  bool
	optimiseMoves  bool

	latestTuneSteps int
	latestTuneTime  int64
}

// New creates an unconfigured, disabled motor for the named axis.
func New(name string, clk *clock.Clock, relay *log.Relay, comms Comms, led *gpio.StatusLED, pins Pins) *Motor {
	m := &Motor{
		name:               name,
		clk:                clk,
		relay:              relay,
		comms:              comms,
		led:                led,
		pins:               pins,
		sleep:              time.Sleep,
		vmot:               func() int { return 0 },
		traj:               trajectory.New(name, clk, relay),
		sendStatus:         true,
		statusTimer:        clock.NewTimer(clk, name, defaultStatusPeriod, 0),
		fastTime:           defaultFastTime,
		slowTime:           defaultSlowTime,
		accelDelta:         defaultAccelDelta,
		waitTime:           defaultSlowTime,
		orientation:        1,
		stepDir:            1,
		slewStepMultiplier: 1,
	}
	return m
}

// Name returns the axis name.
func (m *Motor) Name() string { return m.name }

// Trajectory exposes the motor's trajectory to the session layer.
func (m *Motor) Trajectory() *trajectory.Trajectory { return m.traj }

// Configured reports whether a host configuration has been applied.
func (m *Motor) Configured() bool { return m.motorConfigured }

// Enabled reports whether drive current is engaged.
func (m *Motor) Enabled() bool { return m.motorEnabled }

// OnTarget reports whether the requested position equals the current
// position. Positions, never angles: angle comparison rounds.
func (m *Motor) OnTarget() bool { return m.onTarget }

// FaultDetected reports the driver fault latch.
func (m *Motor) FaultDetected() bool { return m.faultDetected }

// CurrentPosition returns the position in steps.
func (m *Motor) CurrentPosition() int { return m.currentPosition }

// TargetPosition returns the target in steps.
func (m *Motor) TargetPosition() int { return m.targetPosition }

// SetSleep replaces the pulse-pacing sleep, for tests.
func (m *Motor) SetSleep(fn func(time.Duration)) { m.sleep = fn }

// SetVMot installs a motor-supply ADC reader for status lines.
func (m *Motor) SetVMot(fn func() int) { m.vmot = fn }

// SetStatusEnabled toggles periodic status messages; used while the
// host downloads trajectory batches.
func (m *Motor) SetStatusEnabled(on bool) { m.sendStatus = on }

// BaseConfig carries the station-file defaults applied at startup.
// The motor stays unconfigured until the host confirms with a
// configure message; these values just make angle arithmetic sane
// beforehand.
type BaseConfig struct {
	GearRatio        float64
	MotorStepsPerRev int
	MinAngle         float64
	MaxAngle         float64
	RestAngle        float64
	CurrentAngle     float64
	Orientation      int
	BacklashAngle    float64
}

// ApplyBase applies startup geometry. Positions are re-derived from
// the supplied angles.
func (m *Motor) ApplyBase(cfg BaseConfig) {
	m.gearRatio = cfg.GearRatio
	m.motorStepsPerRev = cfg.MotorStepsPerRev
	m.minAngle = cfg.MinAngle
	m.maxAngle = cfg.MaxAngle
	m.restAngle = cfg.RestAngle
	m.orientation = cfg.Orientation
	m.backlashAngle = cfg.BacklashAngle
	m.waitTime = m.slowTime
	m.stepDir = 1
	m.lastStepDir = 0
	m.driftSteps = 0
	m.axisStepsPerRev = int(math.Round(float64(m.motorStepsPerRev) * m.gearRatio))
	m.restPosition = m.AngleToStep(m.restAngle)
	m.currentPosition = m.AngleToStep(cfg.CurrentAngle)
	m.targetPosition = m.currentPosition
	m.minPosition = m.AngleToStep(m.minAngle)
	m.maxPosition = m.AngleToStep(m.maxAngle)
	m.requestedPosition = m.currentPosition
	m.hasRequested = true
}

// Configure applies a host "configure motor" message:
//
//	configure motor <ts> <name> <curAngle> <minAngle> <maxAngle> <backlash>
//	    <orient> <fastT> <slowT> <accel> <statusPeriod> <faultSens>
//	    <optMoves> <limitAngle> <gearRatio> <stepsPerRev> <slewMult>
//	    <restAngle> <microMode> [<slewMotor> [<slewMode>]]
//
// Fields may be "none" to leave the current value unchanged. Current,
// min and max positions are re-derived from angles after the gearing
// fields are applied: step counts from before a gearing change are
// meaningless.
func (m *Motor) Configure(fields []string) error {
	if len(fields) < 21 {
		return fmt.Errorf("motor %s: configure needs 21+ fields, got %d", m.name, len(fields))
	}
	if _, err := m.clk.UpdateFromString(fields[2]); err != nil {
		return err
	}
	var err error
	setF := func(i int, dst *float64) {
		if err != nil || protocol.IsNone(fields[i]) {
			return
		}
		var v float64
		if v, err = strconv.ParseFloat(fields[i], 64); err == nil {
			*dst = v
		}
	}
	setF(7, &m.backlashAngle)
	if !protocol.IsNone(fields[8]) {
		var v int
		if v, err = strconv.Atoi(fields[8]); err == nil {
			m.orientation = v
		}
	}
	setF(9, &m.fastTime)
	setF(10, &m.slowTime)
	setF(11, &m.accelDelta)
	if err != nil {
		return fmt.Errorf("motor %s: configure: %w", m.name, err)
	}
	if m.waitTime < m.fastTime {
		m.waitTime = m.fastTime
	}
	if m.waitTime > m.slowTime {
		m.waitTime = m.slowTime
	}
	if !protocol.IsNone(fields[12]) {
		period, perr := strconv.Atoi(fields[12])
		if perr != nil {
			return fmt.Errorf("motor %s: status period: %w", m.name, perr)
		}
		if period < 1 {
			period = 1
		} else if period > 30 {
			period = 30
		}
		m.statusTimer = clock.NewTimer(m.clk, m.name, int64(period), 0)
	}
	if !protocol.IsNone(fields[13]) {
		m.faultSensitive = protocol.ParseBool(fields[13], false)
	}
	if !protocol.IsNone(fields[14]) {
		m.optimiseMoves = protocol.ParseBool(fields[14], false)
	}
	if !protocol.IsNone(fields[16]) {
		setF(16, &m.gearRatio)
	}
	if !protocol.IsNone(fields[17]) {
		v, perr := strconv.Atoi(fields[17])
		if perr != nil {
			return fmt.Errorf("motor %s: steps per rev: %w", m.name, perr)
		}
		m.motorStepsPerRev = v
	}
	m.axisStepsPerRev = int(math.Round(float64(m.motorStepsPerRev) * m.gearRatio))
	if v, perr := strconv.Atoi(fields[18]); perr == nil {
		m.slewStepMultiplier = v
	}
	setF(19, &m.restAngle)
	if err != nil {
		return fmt.Errorf("motor %s: configure: %w", m.name, err)
	}
	m.restPosition = m.AngleToStep(m.restAngle)
	m.microMode = parseModeSignals(fields[20])
	if len(fields) > 21 {
		m.slewMotor = protocol.ParseBool(fields[21], false)
	}
	if len(fields) > 22 {
		m.slewMode = parseModeSignals(fields[22])
	}
	// Positions are restored only after the gearing is known.
	if !protocol.IsNone(fields[4]) {
		angle, perr := strconv.ParseFloat(fields[4], 64)
		if perr != nil {
			return fmt.Errorf("motor %s: current angle: %w", m.name, perr)
		}
		m.currentPosition = m.AngleToStep(angle)
		m.targetPosition = m.currentPosition
	}
	if !protocol.IsNone(fields[5]) {
		setF(5, &m.minAngle)
		m.minPosition = m.AngleToStep(m.minAngle)
	}
	if !protocol.IsNone(fields[6]) {
		setF(6, &m.maxAngle)
		m.maxPosition = m.AngleToStep(m.maxAngle)
	}
	if err != nil {
		return fmt.Errorf("motor %s: configure: %w", m.name, err)
	}
	if protocol.IsNone(fields[15]) {
		m.hasLimit = false
	} else {
		angle, perr := strconv.ParseFloat(fields[15], 64)
		if perr != nil {
			return fmt.Errorf("motor %s: limit angle: %w", m.name, perr)
		}
		m.limitPosition = m.AngleToStep(angle)
		m.hasLimit = true
	}
	m.motorConfigured = true
	m.ReportConfig()
	return nil
}

func parseModeSignals(s string) [3]bool {
	s += "nnn"
	return [3]bool{
		protocol.ParseBool(s[0:1], false),
		protocol.ParseBool(s[1:2], false),
		protocol.ParseBool(s[2:3], false),
	}
}

// Reset returns the motor to the unconfigured, disabled startup state
// and clears its trajectory. Current position snaps to the rest
// position; a fresh host configuration is required before moving.
func (m *Motor) Reset(enable bool) {
	m.relay.Log(m.name + ".reset")
	m.traj.Clear()
	if enable {
		m.EnableMotor()
	} else {
		m.DisableMotor()
	}
	m.onTarget = false
	m.currentPosition = m.restPosition
	m.targetPosition = m.restPosition
	m.hasRequested = false
	m.motorConfigured = false
	m.sendStatus = true
	m.microMode = [3]bool{}
	m.slewMode = [3]bool{}
	m.slewMotor = false
	m.slewStepMultiplier = 1
	m.SendStatus(true, "rst")
}

// EnableMotor engages drive current. Refused until configured.
func (m *Motor) EnableMotor() {
	if !m.motorConfigured {
		m.relay.Log(m.name + ": not configured, will not enable")
		return
	}
	// Enable pin is active-low on the driver board.
	m.pins.Enable.SetValue(false)
	m.motorEnabled = true
}

// DisableMotor disengages drive current; the axis no longer holds
// position.
func (m *Motor) DisableMotor() {
	m.pins.Enable.SetValue(true)
	m.motorEnabled = false
}

// StepToAngle converts a step position to an angle in degrees.
func (m *Motor) StepToAngle(steps int) float64 {
	return float64(steps) * 360.0 / float64(m.axisStepsPerRev)
}

// AngleToStep converts an angle to the nearest whole step position.
func (m *Motor) AngleToStep(deg float64) int {
	return int(math.Round(deg * float64(m.axisStepsPerRev) / 360.0))
}

// CurrentDegrees returns the current position as an angle.
func (m *Motor) CurrentDegrees() float64 {
	if m.axisStepsPerRev == 0 {
		return 0
	}
	return m.StepToAngle(m.currentPosition)
}

// ChangeSteps returns the signed step count to the target.
func (m *Motor) ChangeSteps() int {
	return m.targetPosition - m.currentPosition
}

// CheckOnTarget refreshes the on-target flag from the requested and
// current positions.
func (m *Motor) CheckOnTarget() {
	m.onTarget = m.hasRequested && m.requestedPosition == m.currentPosition
}

// SetTargetByPosition prepares a move to the given step position. With
// limit set, the target is clamped to the configured angular range; a
// clamp is logged and makes the return value false, but the clamped
// move still proceeds. The speed ramp restarts from the slow pulse
// time and the step direction follows the sign of the delta.
func (m *Motor) SetTargetByPosition(pos int, limit bool) bool {
	ok := true
	m.requestedPosition = pos
	m.hasRequested = true
	m.EnableMotor()
	if limit {
		angle := m.StepToAngle(pos)
		if angle > m.maxAngle {
			m.relay.Logf("%s: set target %v exceeds max angle, limited to %v", m.name, angle, m.maxAngle)
			pos = m.AngleToStep(m.maxAngle)
			ok = false
		}
		if angle < m.minAngle {
			m.relay.Logf("%s: set target %v exceeds min angle, limited to %v", m.name, angle, m.minAngle)
			pos = m.AngleToStep(m.minAngle)
			ok = false
		}
	}
	m.targetPosition = pos
	m.waitTime = m.slowTime
	if m.ChangeSteps() > 0 {
		m.stepDir = 1
	} else {
		m.stepDir = -1
	}
	return ok
}

// ExpectedPosition returns the trajectory's current expected position.
func (m *Motor) ExpectedPosition() (int, bool) {
	return m.traj.ExpectedPosition()
}

// TargetFromTrajectory derives the move target from the trajectory.
// Returns false when the trajectory or configuration is not ready.
func (m *Motor) TargetFromTrajectory() bool {
	pos, ok := m.traj.ExpectedPosition()
	if !ok || !m.traj.Valid() || !m.motorConfigured {
		m.relay.Log("target from trajectory", m.name, "not ready: valid", m.traj.Valid(), "configured", m.motorConfigured)
		return false
	}
	return m.SetTargetByPosition(pos, true)
}

// AddTrajectoryEntry parses and appends a trajectory segment. The
// start/end step positions are optional on the wire; when absent they
// are derived from the angles.
func (m *Motor) AddTrajectoryEntry(fields []string) error {
	var (
		p   trajectory.Point
		err error
	)
	switch {
	case len(fields) >= 9:
		p, err = trajectory.ParsePoint(fields)
	case len(fields) == 7:
		p, err = m.pointFromAngles(fields)
	default:
		err = fmt.Errorf("trajectory: segment needs 7 or 9 fields, got %d", len(fields))
	}
	if err != nil {
		m.relay.Logf("trajectory add (%s) failed: %v", m.name, err)
		return err
	}
	m.traj.Add(p)
	m.SendStatus(true, "atp")
	return nil
}

func (m *Motor) pointFromAngles(fields []string) (trajectory.Point, error) {
	startTime, err := protocol.ParseTime(fields[3])
	if err != nil {
		return trajectory.Point{}, err
	}
	startAngle, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return trajectory.Point{}, fmt.Errorf("trajectory: start angle: %w", err)
	}
	endTime, err := protocol.ParseTime(fields[5])
	if err != nil {
		return trajectory.Point{}, err
	}
	endAngle, err := strconv.ParseFloat(fields[6], 64)
	if err != nil {
		return trajectory.Point{}, fmt.Errorf("trajectory: end angle: %w", err)
	}
	return trajectory.NewPoint(startTime, startAngle, endTime, endAngle,
		m.AngleToStep(startAngle), m.AngleToStep(endAngle)), nil
}

// ClearTrajectory discards the trajectory and reports it.
func (m *Motor) ClearTrajectory() {
	m.traj.Clear()
	m.SendStatus(true, "clt")
}

// Stop halts the axis: trajectory cleared, target pinned to the
// current position.
func (m *Motor) Stop() {
	m.ClearTrajectory()
	m.targetPosition = m.currentPosition
	m.onTarget = false
	m.hasRequested = false
	m.relay.Log("stop(" + m.name + ")")
}

// GoToAngle performs a direct host-commanded move. Any existing
// trajectory is cleared first. Rejected when unconfigured; clamped
// (and reported) when outside the angular limits.
func (m *Motor) GoToAngle(angle float64) {
	if !m.motorConfigured {
		m.relay.Logf("goto (%s) rejected: motor not configured", m.name)
		m.comms.Write(fmt.Sprintf("goto rejected %s %v MotorNotConfigured", m.name, angle))
		m.SendStatus(true, "gte")
		return
	}
	m.relay.Logf("goto (%s) %v", m.name, angle)
	m.Stop()
	if !m.SetTargetByPosition(m.AngleToStep(angle), true) {
		m.comms.Write(fmt.Sprintf("goto rejected %s %v limited to %v", m.name, angle, m.StepToAngle(m.targetPosition)))
	}
	if m.slewMotor {
		m.MoveFast()
	} else {
		m.Move()
	}
	m.SendStatus(true, "gte")
}

// TunePosition physically shifts the axis by delta steps while leaving
// the logical position unchanged. Used to absorb positioning drift.
// Limits are not enforced; the host takes responsibility.
func (m *Motor) TunePosition(delta int) {
	if !m.motorConfigured {
		m.comms.Write(fmt.Sprintf("tune rejected %s %s %d MotorNotConfigured",
			m.name, m.clk.NowString(), delta))
		m.relay.Logf("tune (%s) rejected: motor not configured", m.name)
		return
	}
	m.EnableMotor()
	started := m.clk.Now()
	old := m.currentPosition
	m.SetTargetByPosition(old+delta, false)
	m.relay.Logf("tune (%s) current %d target %d", m.name, m.currentPosition, m.targetPosition)
	m.Move()
	m.currentPosition = old
	m.targetPosition = old
	m.latestTuneSteps = delta
	m.latestTuneTime = m.clk.Now()
	m.comms.Write(fmt.Sprintf("tune complete %s %s %d %s",
		m.name, protocol.FormatTime(m.latestTuneTime), delta, protocol.FormatTime(started)))
	m.SendStatus(true, "tup")
}
