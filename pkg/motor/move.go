package motor

import (
	"time"
)

// checkFault samples the driver fault-sense pin (active low). The
// latch means each fault is logged once on assert and once on clear,
// not on every poll. Returns true when the move must abort.
func (m *Motor) checkFault() bool {
	if !m.pins.Fault.Value() {
		if m.faultSensitive {
			if !m.faultDetected {
				m.faultDetected = true
				m.relay.Log(m.name + ": fault detected, move terminated")
				if m.led != nil {
					m.led.Task("error")
				}
			}
			return true
		}
		if !m.faultDetected {
			m.faultDetected = true
			m.relay.Log(m.name + ": fault detected, ignored")
		}
		return false
	}
	if m.faultDetected {
		m.faultDetected = false
		m.relay.Log(m.name + ": fault cleared")
	}
	return false
}

// setMode drives the three microstep mode pins.
func (m *Motor) setMode(mode [3]bool) {
	m.pins.Mode0.SetValue(mode[0])
	m.pins.Mode1.SetValue(mode[1])
	m.pins.Mode2.SetValue(mode[2])
}

// stepMove emits one step pulse of the given size and advances the
// logical position, wrapping at a full axis revolution. Each pulse
// also relaxes the pulse period toward the fast limit, which is the
// acceleration ramp.
func (m *Motor) stepMove(stepsize int) {
	if m.led != nil {
		m.led.Task("move")
	}
	if m.motorEnabled {
		wait := time.Duration(m.waitTime * float64(time.Second))
		m.pins.Step.SetValue(true)
		m.sleep(wait)
		m.pins.Step.SetValue(false)
		m.sleep(wait)
		m.currentPosition = wrapPosition(m.currentPosition+m.stepDir*stepsize, m.axisStepsPerRev)
	} else {
		m.relay.Log(m.name + ": stepMove suppressed, motor disabled")
	}
	if m.waitTime > m.fastTime {
		m.waitTime -= m.accelDelta
		if m.waitTime < m.fastTime {
			m.waitTime = m.fastTime
		}
	}
}

func wrapPosition(pos, perRev int) int {
	if perRev <= 0 {
		return pos
	}
	pos %= perRev
	if pos < 0 {
		pos += perRev
	}
	return pos
}

// serviceComms keeps the serial link alive during a long move. A slew
// across the sky can take many seconds; without this the host would
// see the controller go silent.
func (m *Motor) serviceComms() {
	m.comms.PollInput()
	m.comms.WritePoll()
	m.SendStatus(false, "mov")
}

// efficiencyCheck considers stepping the other way around the circle
// when that is shorter. Returns the possibly inverted step count; the
// caller flips the direction when the sign changed.
func (m *Motor) efficiencyCheck(steps int) int {
	fullCircle := m.axisStepsPerRev
	if fullCircle <= 0 {
		return steps
	}
	inverted := steps
	if steps > 0 {
		inverted = steps - fullCircle
	} else if steps < 0 {
		inverted = steps + fullCircle
	}
	if abs(inverted) < abs(steps) {
		m.relay.Logf("%s: efficiency check: %d steps inverted to %d", m.name, steps, inverted)
		return inverted
	}
	return steps
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// prepareMove computes the step plan shared by Move and MoveFast.
// Returns the signed step count; direction pins are set and the
// direction-change log emitted.
func (m *Motor) prepareMove() int {
	steps := m.ChangeSteps()
	if m.optimiseMoves {
		if inverted := m.efficiencyCheck(steps); inverted != steps {
			steps = inverted
			m.stepDir = -m.stepDir
		}
	}
	if steps != 0 {
		if m.led != nil {
			m.led.Task("move")
		}
		if abs(steps) > largeMoveSteps {
			m.onTarget = false
		}
	}
	if m.stepDir != 1 && m.stepDir != -1 {
		m.relay.Logf("%s: invalid step direction %d, move abandoned", m.name, m.stepDir)
		return 0
	}
	m.pins.Direction.SetValue(m.stepDir*m.orientation > 0)
	if m.lastStepDir != 0 && m.stepDir != m.lastStepDir {
		m.relay.Logf("%s: direction change %d to %d", m.name, m.lastStepDir, m.stepDir)
	}
	m.lastStepDir = m.stepDir
	return steps
}

// finishMove refreshes the on-target flag and reports a position
// mismatch (a fault-terminated move leaves one).
func (m *Motor) finishMove() {
	m.CheckOnTarget()
	if m.currentPosition != m.targetPosition {
		m.relay.Logf("%s: move incomplete, at %d of %d", m.name, m.currentPosition, m.targetPosition)
	}
	if m.led != nil {
		m.led.Task("idle")
	}
}

// Move steps the axis to its target position one microstep at a time,
// checking the fault pin and servicing comms per pulse.
func (m *Motor) Move() {
	steps := m.prepareMove()
	m.setMode(m.microMode)
	m.waitTime = m.slowTime
	for steps != 0 {
		if m.checkFault() {
			break
		}
		steps -= m.stepDir
		m.stepMove(1)
		m.serviceComms()
	}
	m.finishMove()
}

// MoveFast is the slew path for large moves: microstep to a full-step
// boundary, cover the distance in full steps, then microstep the
// remainder once within tolerance. Falls back to Move behaviour for
// axes without a slew configuration.
func (m *Motor) MoveFast() {
	if !m.slewMotor || m.slewStepMultiplier < 2 {
		m.Move()
		return
	}
	steps := m.prepareMove()
	tolerance := slewTolerance * m.slewStepMultiplier

	// Phase 1: align the position on a full-step boundary.
	m.setMode(m.microMode)
	m.waitTime = m.slowTime
	for steps != 0 && m.currentPosition%m.slewStepMultiplier != 0 {
		if m.checkFault() {
			m.finishMove()
			return
		}
		steps -= m.stepDir
		m.stepMove(1)
		m.serviceComms()
	}

	// Phase 2: full steps until close to the target.
	m.setMode(m.slewMode)
	m.waitTime = m.slowTime
	for abs(steps) >= m.slewStepMultiplier && abs(m.ChangeSteps()) > tolerance {
		if m.checkFault() {
			m.finishMove()
			return
		}
		steps -= m.stepDir * m.slewStepMultiplier
		m.stepMove(m.slewStepMultiplier)
		m.serviceComms()
	}

	// Phase 3: microstep the remainder.
	m.setMode(m.microMode)
	m.waitTime = m.slowTime
	for steps != 0 {
		if m.checkFault() {
			break
		}
		steps -= m.stepDir
		m.stepMove(1)
		m.serviceComms()
	}
	m.finishMove()
}
