// Package dispatch routes decoded host command lines to the session,
// motors, clock, LED and pins. One command per line; anything
// unrecognised is reported back rather than silently dropped.
package dispatch

import (
	"strconv"
	"strings"
	"time"

	"mountctl/pkg/clock"
	"mountctl/pkg/gpio"
	"mountctl/pkg/log"
	"mountctl/pkg/protocol"
	"mountctl/pkg/session"
	"mountctl/pkg/transport"
)

// Dispatcher executes host commands. All methods run on the control
// loop goroutine.
type Dispatcher struct {
	sess   *session.Session
	tr     *transport.Transport
	clk    *clock.Clock
	relay  *log.Relay
	led    *gpio.StatusLED
	pins   *gpio.Registry
	banner []string
	sleep  func(time.Duration)
}

// New creates a dispatcher. banner is replayed by a reset command.
func New(sess *session.Session, tr *transport.Transport, clk *clock.Clock, relay *log.Relay,
	led *gpio.StatusLED, pins *gpio.Registry, banner []string) *Dispatcher {
	return &Dispatcher{
		sess:   sess,
		tr:     tr,
		clk:    clk,
		relay:  relay,
		led:    led,
		pins:   pins,
		banner: banner,
		sleep:  time.Sleep,
	}
}

// SetSleep replaces the pin-command pacing sleep, for tests.
func (d *Dispatcher) SetSleep(fn func(time.Duration)) { d.sleep = fn }

// Dispatch routes one decoded line. Malformed commands are counted and
// logged; the loop never dies on bad input.
func (d *Dispatcher) Dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch {
	case fields[0] == "exit":
		d.relay.Log("exit command received")
		d.sess.Quit = true
	case fields[0] == "stop":
		for _, m := range d.sess.Motors() {
			m.Stop()
		}
		d.sess.MovePermission()
	case strings.HasPrefix(line, "#"):
		// Comment, ignore.
	case strings.HasPrefix(line, "rpi started"):
		d.tr.Write("acknowledged rpi started")
		for _, m := range d.sess.Motors() {
			m.Reset(false)
		}
		d.sess.MovePermission()
	case fields[0] == "reset":
		for _, m := range d.sess.Motors() {
			m.Reset(false)
		}
		d.tr.Reset(d.banner)
		d.tr.Write("acknowledged reset")
	case fields[0] == "sendstatus":
		d.tr.Write("# " + line)
		if len(fields) > 2 {
			on := protocol.ParseBool(fields[2], true)
			for _, m := range d.sess.Motors() {
				m.SetStatusEnabled(on)
			}
		}
	case strings.HasPrefix(line, "set rgb"):
		d.led.SetRGB(fields)
		d.tr.Write("# acknowledge set rgb :" + line)
	case strings.HasPrefix(line, "raise exception"):
		d.sess.Errors.Raise()
		d.tr.Write("# raised artificial exception for testing")
	case fields[0] == "tune":
		if len(fields) < 4 {
			d.fail(line, "tune needs motor and steps")
			return
		}
		steps, err := strconv.Atoi(fields[3])
		if err != nil {
			d.fail(line, err.Error())
			return
		}
		if m := d.sess.FindMotor(fields[2]); m != nil {
			m.TunePosition(steps)
		}
	case strings.HasPrefix(line, "rpi version"):
		if len(fields) > 3 {
			d.checkVersion(fields[3])
		}
	case strings.HasPrefix(line, "clear trajectory"):
		d.tr.Write("cleared trajectory")
		for _, m := range d.sess.Motors() {
			m.ClearTrajectory()
		}
		d.sess.MovePermission()
	case strings.HasPrefix(line, "configure motor"):
		if len(fields) < 4 {
			d.fail(line, "configure motor needs a motor name")
			return
		}
		if m := d.sess.FindMotor(fields[3]); m != nil {
			if err := m.Configure(fields); err != nil {
				d.fail(line, err.Error())
			} else {
				m.SendStatus(true, "cfg")
			}
		}
		d.sess.MovePermission()
	case strings.HasPrefix(line, "report motor"):
		for _, m := range d.sess.Motors() {
			m.ReportConfig()
		}
	case fields[0] == "trajectory":
		if len(fields) < 3 {
			d.fail(line, "trajectory needs a motor name")
			return
		}
		if m := d.sess.FindMotor(fields[2]); m != nil {
			if err := m.AddTrajectoryEntry(fields); err != nil {
				d.sess.Errors.Raise()
			}
		}
		d.sess.MovePermission()
	case fields[0] == "goto":
		if len(fields) < 4 {
			d.fail(line, "goto needs motor and angle")
			return
		}
		angle, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			d.fail(line, err.Error())
			return
		}
		if m := d.sess.FindMotor(fields[2]); m != nil {
			m.GoToAngle(angle)
		}
	case strings.HasPrefix(line, "set time"):
		if len(fields) > 2 {
			if err := d.clk.SetFromString(fields[2]); err != nil {
				d.fail(line, err.Error())
				return
			}
		}
		d.sess.MovePermission()
	case strings.HasPrefix(line, "leds off"):
		d.led.Disable()
	case strings.HasPrefix(line, "leds on"):
		d.led.Enable()
	case fields[0] == "pin":
		d.pinCommand(fields)
	default:
		d.tr.Write("error: unrecognised RPi command: " + line)
	}
}

func (d *Dispatcher) fail(line, reason string) {
	d.relay.Logf("command failed (%s): %s", reason, line)
	d.sess.Errors.Raise()
}

// checkVersion warns when the host software version is outside the
// accepted range. A mismatch is reported, never fatal; the operator
// decides whether to proceed.
func (d *Dispatcher) checkVersion(hostVersion string) {
	if !protocol.CompatibleHostVersion(hostVersion) {
		d.relay.Log("rpi version", hostVersion, "not in accepted list")
	}
}

// pinCommand executes a direct GPIO command:
//
//	pin <ts> <name> on|off|state [<duration> [<repeats>]]
//
// on/off apply to output pins, optionally for a duration and repeated;
// state reports the current level of any pin.
func (d *Dispatcher) pinCommand(fields []string) {
	if len(fields) < 3 {
		d.tr.Write("# pin command failed: no pin ID")
		return
	}
	if len(fields) < 4 {
		d.tr.Write("# pin command failed: no command")
		return
	}
	pin, err := d.pins.Find(fields[2])
	if err != nil {
		d.tr.Write("# pin command failed: " + fields[2] + " unknown")
		return
	}
	command := strings.ToLower(fields[3])
	var duration time.Duration
	if len(fields) > 4 {
		secs, perr := strconv.ParseFloat(fields[4], 64)
		if perr != nil {
			d.fail(strings.Join(fields, " "), perr.Error())
			return
		}
		duration = time.Duration(secs * float64(time.Second))
	}
	repeats := 0
	if len(fields) > 5 {
		if repeats, err = strconv.Atoi(fields[5]); err != nil {
			d.fail(strings.Join(fields, " "), err.Error())
			return
		}
	}
	iterations := repeats
	if iterations < 1 {
		iterations = 1
	}
	for i := 0; i < iterations; i++ {
		switch {
		case command == "on" && pin.Direction() == gpio.Output:
			pin.SetValue(true)
			if duration != 0 {
				d.sleep(duration)
				pin.SetValue(false)
				if repeats > 0 {
					d.sleep(duration)
				}
			}
		case command == "off" && pin.Direction() == gpio.Output:
			pin.SetValue(false)
			if duration != 0 {
				d.sleep(duration)
				pin.SetValue(true)
				if repeats > 0 {
					d.sleep(duration)
				}
			}
		case command == "state":
			d.tr.Write("# pin status " + pin.Name() + " " + protocol.FormatBool(pin.Value()))
		}
	}
}
