package gpio

import (
	"strconv"

	"mountctl/pkg/protocol"
)

// Task colors for the RGB status LED.
var ledTasks = map[string][3]bool{
	"idle":  {false, false, false},
	"coms":  {false, false, true},  // blue: serial traffic
	"move":  {false, true, false},  // green: motor moving
	"error": {true, false, false},  // red: fault trapped
	"init":  {false, true, true},   // cyan: starting up
}

// errorHoldSeconds is the minimum time an error color stays lit before
// any other task may repaint the LED.
const errorHoldSeconds = 1

// StatusLED models the board RGB LED. Error indications always win and
// hold for at least a second; everything else can be disabled for
// stealth operation.
type StatusLED struct {
	r, g, b      bool
	enabled      bool
	statusExpiry int64
	now          func() int64
	watch        func(r, g, b bool)
}

// NewStatusLED creates the LED model. now supplies real-time seconds.
func NewStatusLED(now func() int64) *StatusLED {
	l := &StatusLED{enabled: true, now: now}
	l.Task("idle")
	return l
}

// Enable re-enables task colors.
func (l *StatusLED) Enable() { l.enabled = true }

// Disable turns the LED off for everything except errors.
func (l *StatusLED) Disable() {
	l.enabled = false
	l.Task("idle")
}

// Enabled reports whether task colors are shown.
func (l *StatusLED) Enabled() bool { return l.enabled }

// Watch installs a callback invoked on every color change.
func (l *StatusLED) Watch(fn func(r, g, b bool)) { l.watch = fn }

// RGB returns the current channel states.
func (l *StatusLED) RGB() (r, g, b bool) { return l.r, l.g, l.b }

// Task paints the LED for the given activity. An error task sets a
// one-second hold during which no other task can repaint; while the
// LED is disabled only error tasks are shown.
func (l *StatusLED) Task(task string) {
	now := l.now()
	if now < l.statusExpiry {
		return
	}
	if l.enabled || task == "error" {
		if task == "error" {
			l.statusExpiry = now + errorHoldSeconds
		}
		if c, ok := ledTasks[task]; ok {
			l.set(c[0], c[1], c[2])
		} else {
			l.set(false, false, false)
		}
		return
	}
	l.set(false, false, false)
}

// SetRGB applies a host "set rgb" override. Fields are the full
// message fields: set rgb <ts> <r> <g> <b> [<seconds>]. This works
// even when the LED is disabled; it exists so an operator can prove
// the controller is receiving commands.
func (l *StatusLED) SetRGB(fields []string) {
	get := func(i int) bool {
		return len(fields) > i && protocol.ParseBool(fields[i], false)
	}
	l.set(get(3), get(4), get(5))
	if len(fields) > 6 {
		if sec, err := parseSeconds(fields[6]); err == nil {
			l.statusExpiry = l.now() + sec
		}
	}
}

func (l *StatusLED) set(r, g, b bool) {
	l.r, l.g, l.b = r, g, b
	if l.watch != nil {
		l.watch(r, g, b)
	}
}

func parseSeconds(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
