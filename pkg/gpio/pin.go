// Package gpio models the controller's named GPIO pins and the RGB
// status LED. The in-tree backend is a pure software simulation; real
// board drivers implement the same surface and live outside this
// module.
package gpio

import "fmt"

// Direction of a pin.
type Direction int

const (
	Input Direction = iota
	Output
)

// Pin is a single named digital pin. Output pins are driven by the
// controller; input pins are driven by the outside world (or a test).
type Pin struct {
	name  string
	dir   Direction
	value bool
	watch func(bool)
}

// NewOutput creates an output pin, initially low.
func NewOutput(name string) *Pin {
	return &Pin{name: name, dir: Output}
}

// NewInput creates an input pin. It reads high until driven, matching
// a pulled-up line.
func NewInput(name string) *Pin {
	return &Pin{name: name, dir: Input, value: true}
}

// Name returns the pin's registered name.
func (p *Pin) Name() string { return p.name }

// Direction returns the pin's direction.
func (p *Pin) Direction() Direction { return p.dir }

// SetValue drives an output pin. Setting an input pin is ignored.
func (p *Pin) SetValue(v bool) {
	if p.dir != Output {
		return
	}
	p.value = v
	if p.watch != nil {
		p.watch(v)
	}
}

// Drive simulates the external signal on an input pin.
func (p *Pin) Drive(v bool) {
	if p.dir != Input {
		return
	}
	p.value = v
}

// Value returns the pin's current level.
func (p *Pin) Value() bool { return p.value }

// Watch installs a callback invoked on every output transition.
func (p *Pin) Watch(fn func(bool)) { p.watch = fn }

// Registry holds every defined pin so the host's direct pin commands
// can address them by name.
type Registry struct {
	pins []*Pin
}

// Register adds a pin to the registry and returns it.
func (r *Registry) Register(p *Pin) *Pin {
	r.pins = append(r.pins, p)
	return p
}

// Output registers a new output pin.
func (r *Registry) Output(name string) *Pin {
	return r.Register(NewOutput(name))
}

// Input registers a new input pin.
func (r *Registry) Input(name string) *Pin {
	return r.Register(NewInput(name))
}

// Find returns the named pin, or an error if it is not defined.
func (r *Registry) Find(name string) (*Pin, error) {
	for _, p := range r.pins {
		if p.name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("gpio: pin %q not defined", name)
}

// Names returns the registered pin names in definition order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.pins))
	for _, p := range r.pins {
		names = append(names, p.name)
	}
	return names
}
