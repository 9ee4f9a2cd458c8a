package motor

import (
	"fmt"

	"mountctl/pkg/protocol"
)

// SendStatus queues the axis status line. With immediate false the
// line only goes when the status timer is due; an immediate send also
// re-arms the timer so the host never sees a burst. While periodic
// status is disabled (trajectory downloads) a comment line is sent
// instead so the host can tell suppression from silence.
//
//	motor status <ts> <name> <trajValid> <validUntil> <segments>
//	    <position> <angle> <configured> <onTarget> <pulsePeriod>
//	    <vmot> <codes>
func (m *Motor) SendStatus(immediate bool, codes string) {
	if !immediate && !m.statusTimer.Due() {
		return
	}
	if !m.sendStatus {
		m.comms.Write(fmt.Sprintf("# motor status %s %s disabled. %s",
			m.clk.NowString(), m.name, codes))
		return
	}
	m.comms.Write(fmt.Sprintf("motor status %s %s %s %s %d %d %v %s %s %v %d %s",
		m.clk.NowString(),
		m.name,
		protocol.FormatBool(m.traj.Valid()),
		protocol.FormatTime(m.traj.ValidUntil()),
		m.traj.Len(),
		m.currentPosition,
		m.CurrentDegrees(),
		protocol.FormatBool(m.motorConfigured),
		protocol.FormatBool(m.onTarget),
		m.waitTime*2,
		m.vmot(),
		codes))
	if immediate {
		m.statusTimer.Reset()
	}
}

// ReportConfig echoes the applied configuration back to the host as
// comment lines, split across three lines to respect the transmit
// chunking.
func (m *Motor) ReportConfig() {
	m.comms.Write(fmt.Sprintf("# motor %s conf 1: angle %v min %v max %v backlash %v orient %d",
		m.name, m.CurrentDegrees(), m.minAngle, m.maxAngle, m.backlashAngle, m.orientation))
	m.comms.Write(fmt.Sprintf("# motor %s conf 2: fast %v slow %v accel %v status %d fault %s opt %s",
		m.name, m.fastTime, m.slowTime, m.accelDelta, m.statusTimer.Period(),
		protocol.FormatBool(m.faultSensitive), protocol.FormatBool(m.optimiseMoves)))
	limit := "none"
	if m.hasLimit {
		limit = fmt.Sprintf("%v", m.StepToAngle(m.limitPosition))
	}
	m.comms.Write(fmt.Sprintf("# motor %s conf 3: limit %s gear %v steps %d slewmult %d rest %v slew %s",
		m.name, limit, m.gearRatio, m.motorStepsPerRev, m.slewStepMultiplier, m.restAngle,
		protocol.FormatBool(m.slewMotor)))
}
