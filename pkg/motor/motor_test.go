package motor

import (
	"strings"
	"testing"
	"time"

	"mountctl/pkg/clock"
	"mountctl/pkg/gpio"
	"mountctl/pkg/log"
)

type fakeTime struct {
	sec  int64
	mono int64
}

// fakeComms records lines written by the motor.
type fakeComms struct {
	lines []string
}

func (f *fakeComms) Write(line string) { f.lines = append(f.lines, line) }
func (f *fakeComms) PollInput() int    { return 0 }
func (f *fakeComms) WritePoll()        {}

func (f *fakeComms) find(prefix string) string {
	for _, l := range f.lines {
		if strings.HasPrefix(l, prefix) {
			return l
		}
	}
	return ""
}

// azimuthBase is the standard azimuth axis: 400-step motor behind
// 240:1 gearing, 96000 steps per axis revolution.
func azimuthBase() BaseConfig {
	return BaseConfig{
		GearRatio:        240,
		MotorStepsPerRev: 400,
		MinAngle:         45,
		MaxAngle:         315,
		RestAngle:        180,
		CurrentAngle:     180,
		Orientation:      1,
	}
}

func newTestMotor(t *testing.T) (*Motor, *fakeComms, *gpio.Pin, *fakeTime) {
	t.Helper()
	ft := &fakeTime{sec: 1_756_600_000}
	clk := clock.NewWithSource(
		func() time.Time { return time.Unix(ft.sec, 0) },
		func() int64 { return ft.mono },
		nil)
	relay := log.NewRelay(clk.NowString, nil)
	comms := &fakeComms{}
	reg := &gpio.Registry{}
	fault := reg.Input("fault")
	pins := Pins{
		Step:      reg.Output("step"),
		Direction: reg.Output("direction"),
		Mode0:     reg.Output("mode0"),
		Mode1:     reg.Output("mode1"),
		Mode2:     reg.Output("mode2"),
		Enable:    reg.Output("enable"),
		Fault:     fault,
	}
	m := New("azimuth", clk, relay, comms, nil, pins)
	m.SetSleep(func(time.Duration) {})
	m.ApplyBase(azimuthBase())
	return m, comms, fault, ft
}

// configureFields builds a full host configure message for the motor.
func configureFields(overrides map[int]string) []string {
	fields := []string{
		"configure", "motor", "20260831120000", "azimuth",
		"180.0",  // 4: current angle
		"45.0",   // 5: min angle
		"315.0",  // 6: max angle
		"0.0",    // 7: backlash
		"1",      // 8: orientation
		"0.0005", // 9: fast time
		"0.05",   // 10: slow time
		"0.003",  // 11: accel delta
		"10",     // 12: status period
		"y",      // 13: fault sensitive
		"n",      // 14: optimise moves
		"none",   // 15: limit angle
		"240.0",  // 16: gear ratio
		"400",    // 17: motor steps per rev
		"1",      // 18: slew multiplier
		"180.0",  // 19: rest angle
		"nny",    // 20: microstep mode
		"n",      // 21: slew motor
		"nnn",    // 22: slew mode
	}
	for i, v := range overrides {
		fields[i] = v
	}
	return fields
}

func configured(t *testing.T, m *Motor, overrides map[int]string) {
	t.Helper()
	if err := m.Configure(configureFields(overrides)); err != nil {
		t.Fatalf("Configure: %v", err)
	}
}

func TestAngleStepRoundTrip(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	for _, angle := range []float64{0, 45, 90.125, 180, 270.5, 315} {
		steps := m.AngleToStep(angle)
		back := m.StepToAngle(steps)
		if m.AngleToStep(back) != steps {
			t.Errorf("round trip lost steps at %v: %d -> %v -> %d",
				angle, steps, back, m.AngleToStep(back))
		}
	}
	if got := m.AngleToStep(180); got != 48000 {
		t.Errorf("AngleToStep(180) = %d, want 48000", got)
	}
	if got := m.StepToAngle(48000); got != 180 {
		t.Errorf("StepToAngle(48000) = %v, want 180", got)
	}
}

func TestConfigureAppliesFields(t *testing.T) {
	m, comms, _, _ := newTestMotor(t)
	if m.Configured() {
		t.Fatal("motor configured before host message")
	}
	configured(t, m, nil)
	if !m.Configured() {
		t.Error("motor not configured after message")
	}
	if !m.faultSensitive {
		t.Error("fault sensitivity not applied")
	}
	if m.microMode != [3]bool{false, false, true} {
		t.Errorf("microstep mode = %v, want [f f t]", m.microMode)
	}
	if m.axisStepsPerRev != 96000 {
		t.Errorf("axis steps per rev = %d, want 96000", m.axisStepsPerRev)
	}
	if comms.find("# motor azimuth conf 1:") == "" {
		t.Error("configuration not reported back")
	}
}

func TestConfigureNoneLeavesValues(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	configured(t, m, nil)
	before := m.slowTime
	configured(t, m, map[int]string{10: "none", 4: "none"})
	if m.slowTime != before {
		t.Errorf("slow time changed by none field: %v", m.slowTime)
	}
	if m.CurrentPosition() != 48000 {
		t.Errorf("current position changed by none field: %d", m.CurrentPosition())
	}
}

func TestConfigureRejectsShortMessage(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	if err := m.Configure(configureFields(nil)[:10]); err == nil {
		t.Error("short configure message accepted")
	}
	if m.Configured() {
		t.Error("motor configured by a rejected message")
	}
}

func TestConfigureClampsStatusPeriod(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	configured(t, m, map[int]string{12: "900"})
	if got := m.statusTimer.Period(); got != 30 {
		t.Errorf("status period = %d, want clamp to 30", got)
	}
	configured(t, m, map[int]string{12: "0"})
	if got := m.statusTimer.Period(); got != 1 {
		t.Errorf("status period = %d, want clamp to 1", got)
	}
}

func TestMoveReachesTarget(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	configured(t, m, nil)
	m.SetTargetByPosition(48100, true)
	m.Move()
	if m.CurrentPosition() != 48100 {
		t.Errorf("position = %d after move, want 48100", m.CurrentPosition())
	}
	if !m.OnTarget() {
		t.Error("motor not on target after completing move")
	}
}

func TestSetTargetClampsToLimits(t *testing.T) {
	m, comms, _, _ := newTestMotor(t)
	configured(t, m, nil)
	if m.SetTargetByPosition(m.AngleToStep(400), true) {
		t.Error("out-of-range target reported as unclamped")
	}
	if got := m.TargetPosition(); got != m.AngleToStep(315) {
		t.Errorf("target = %d, want clamp to max angle position %d", got, m.AngleToStep(315))
	}
	_ = comms
}

func TestGoToAngleRejectsUnconfigured(t *testing.T) {
	m, comms, _, _ := newTestMotor(t)
	m.GoToAngle(200)
	if comms.find("goto rejected azimuth") == "" {
		t.Error("no rejection reply for unconfigured goto")
	}
	if m.CurrentPosition() != 48000 {
		t.Errorf("unconfigured goto moved the motor to %d", m.CurrentPosition())
	}
}

func TestGoToAngleClampsAndReports(t *testing.T) {
	m, comms, _, _ := newTestMotor(t)
	configured(t, m, nil)
	m.GoToAngle(400)
	if m.CurrentPosition() != m.AngleToStep(315) {
		t.Errorf("position = %d, want clamp to 315 degrees (%d)",
			m.CurrentPosition(), m.AngleToStep(315))
	}
	if comms.find("goto rejected azimuth 400") == "" {
		t.Error("clamped goto not reported")
	}
}

func TestFaultAbortsAndLatchesOnce(t *testing.T) {
	m, _, fault, _ := newTestMotor(t)
	configured(t, m, nil)

	fault.Drive(false)
	m.SetTargetByPosition(48500, true)
	m.Move()
	if m.CurrentPosition() != 48000 {
		t.Errorf("position = %d, want no movement under fault", m.CurrentPosition())
	}
	if !m.FaultDetected() {
		t.Error("fault not latched")
	}

	// A second move while the fault holds logs only the incomplete-move
	// line, not the fault again.
	pending := m.relay.Pending()
	m.Move()
	if got := m.relay.Pending() - pending; got != 1 {
		t.Errorf("second faulted move added %d log lines, want 1", got)
	}

	fault.Drive(true)
	m.Move()
	if m.FaultDetected() {
		t.Error("fault latch not cleared after pin deasserted")
	}
	if m.CurrentPosition() != 48500 {
		t.Errorf("position = %d after fault cleared, want 48500", m.CurrentPosition())
	}
}

func TestFaultIgnoredWhenInsensitive(t *testing.T) {
	m, _, fault, _ := newTestMotor(t)
	configured(t, m, map[int]string{13: "n"})

	fault.Drive(false)
	m.SetTargetByPosition(48100, true)
	m.Move()
	if m.CurrentPosition() != 48100 {
		t.Errorf("position = %d, insensitive motor should complete the move", m.CurrentPosition())
	}
	if !m.FaultDetected() {
		t.Error("ignored fault should still latch for reporting")
	}
}

func TestEfficiencyCheckWrapsShortWay(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	configured(t, m, map[int]string{14: "y", 4: "0.0", 5: "0.0", 6: "360.0"})
	if m.CurrentPosition() != 0 {
		t.Fatalf("position = %d, want 0", m.CurrentPosition())
	}

	// 95000 forward is 1000 backward around the circle.
	m.SetTargetByPosition(95000, false)
	m.Move()
	if m.CurrentPosition() != 95000 {
		t.Errorf("position = %d, want 95000", m.CurrentPosition())
	}
}

func TestMoveFastSlews(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	configured(t, m, map[int]string{18: "8", 21: "y", 22: "nnn"})
	m.SetTargetByPosition(50000, true)
	m.MoveFast()
	if m.CurrentPosition() != 50000 {
		t.Errorf("position = %d after slew, want 50000", m.CurrentPosition())
	}
	if !m.OnTarget() {
		t.Error("motor not on target after slew")
	}
}

func TestTunePositionShiftsWithoutLogicalChange(t *testing.T) {
	m, comms, _, _ := newTestMotor(t)
	configured(t, m, nil)
	m.TunePosition(250)
	if m.CurrentPosition() != 48000 {
		t.Errorf("logical position = %d after tune, want unchanged 48000", m.CurrentPosition())
	}
	if comms.find("tune complete azimuth") == "" {
		t.Error("tune completion not reported")
	}
}

func TestStopClearsTrajectoryAndTarget(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	configured(t, m, nil)
	if err := m.AddTrajectoryEntry([]string{
		"trajectory", "20260831120000", "azimuth",
		"20260831120100", "180.0", "20260831120200", "181.0", "48000", "48240",
	}); err != nil {
		t.Fatalf("AddTrajectoryEntry: %v", err)
	}
	if m.Trajectory().Len() != 1 {
		t.Fatal("trajectory not loaded")
	}
	m.SetTargetByPosition(49000, true)
	m.Stop()
	if m.Trajectory().Len() != 0 {
		t.Error("trajectory survived stop")
	}
	if m.TargetPosition() != m.CurrentPosition() {
		t.Error("target not pinned to current position by stop")
	}
}

func TestTrajectoryEntryFromAngles(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	configured(t, m, nil)
	// Seven-field form: positions derived from the angles.
	if err := m.AddTrajectoryEntry([]string{
		"trajectory", "20260831120000", "azimuth",
		"20260831120100", "180.0", "20260831120200", "181.0",
	}); err != nil {
		t.Fatalf("AddTrajectoryEntry: %v", err)
	}
	angle, ok := m.Trajectory().EndAngle()
	if !ok || angle != 181 {
		t.Errorf("EndAngle = %v, %v; want 181", angle, ok)
	}
}

func TestSendStatusLine(t *testing.T) {
	m, comms, _, _ := newTestMotor(t)
	configured(t, m, nil)
	comms.lines = nil
	m.SendStatus(true, "tst")
	line := comms.find("motor status ")
	if line == "" {
		t.Fatal("no motor status line written")
	}
	fields := strings.Fields(line)
	if len(fields) != 14 {
		t.Fatalf("motor status has %d fields: %q", len(fields), line)
	}
	if fields[3] != "azimuth" || fields[13] != "tst" {
		t.Errorf("status line fields wrong: %q", line)
	}
}

func TestSendStatusSuppressed(t *testing.T) {
	m, comms, _, _ := newTestMotor(t)
	configured(t, m, nil)
	m.SetStatusEnabled(false)
	comms.lines = nil
	m.SendStatus(true, "tst")
	if comms.find("motor status ") != "" {
		t.Error("status sent while disabled")
	}
	if comms.find("# motor status ") == "" {
		t.Error("no suppression comment while disabled")
	}
}

func TestResetReturnsToStartupState(t *testing.T) {
	m, _, _, _ := newTestMotor(t)
	configured(t, m, nil)
	m.SetTargetByPosition(49000, true)
	m.Move()
	m.Reset(false)
	if m.Configured() {
		t.Error("motor still configured after reset")
	}
	if m.Enabled() {
		t.Error("motor still enabled after reset")
	}
	if m.CurrentPosition() != m.restPosition {
		t.Errorf("position = %d after reset, want rest %d", m.CurrentPosition(), m.restPosition)
	}
}
