// Package reactor runs the controller's cooperative main loop. Every
// duty is a named step executed in a fixed order each cycle; a step
// that fails or panics is counted and logged, and the cycle carries on
// with the next step. One broken duty must never take the link down
// with it.
package reactor

import (
	"fmt"
	"time"

	"mountctl/pkg/log"
)

// defaultIdleSleep paces the loop so an idle controller does not spin.
const defaultIdleSleep = time.Millisecond

// Step is one duty of the control loop.
type Step struct {
	Name string
	Fn   func() error
}

// ErrorSink receives step failures; the session error counter
// implements it.
type ErrorSink interface {
	Raise()
}

// Reactor executes its steps in registration order until the quit
// predicate reports true.
type Reactor struct {
	steps  []Step
	logger *log.Logger
	errors ErrorSink
	quit   func() bool
	sleep  func(time.Duration)
	idle   time.Duration

	cycles int64
}

// New creates a reactor. quit is polled once per cycle.
func New(logger *log.Logger, errors ErrorSink, quit func() bool) *Reactor {
	return &Reactor{
		logger: logger,
		errors: errors,
		quit:   quit,
		sleep:  time.Sleep,
		idle:   defaultIdleSleep,
	}
}

// Register appends a step to the cycle.
func (r *Reactor) Register(name string, fn func() error) {
	r.steps = append(r.steps, Step{Name: name, Fn: fn})
}

// SetSleep replaces the idle sleep, for tests.
func (r *Reactor) SetSleep(fn func(time.Duration)) { r.sleep = fn }

// Cycles returns the number of completed loop cycles.
func (r *Reactor) Cycles() int64 { return r.cycles }

// Run executes the loop until quit reports true.
func (r *Reactor) Run() {
	for !r.quit() {
		r.RunOnce()
		r.sleep(r.idle)
	}
}

// RunOnce executes a single cycle of every step.
func (r *Reactor) RunOnce() {
	for _, s := range r.steps {
		if err := r.runStep(s); err != nil {
			r.logger.Warn("step %s failed: %v", s.Name, err)
			if r.errors != nil {
				r.errors.Raise()
			}
		}
	}
	r.cycles++
}

func (r *Reactor) runStep(s Step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.Fn()
}
