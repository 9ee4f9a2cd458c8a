package reactor

import (
	"errors"
	"testing"
	"time"

	"mountctl/pkg/log"
)

type countingSink struct {
	raised int
}

func (c *countingSink) Raise() { c.raised++ }

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetLevel(log.ERROR)
	return l
}

func TestStepsRunInOrder(t *testing.T) {
	r := New(quietLogger(), nil, func() bool { return true })
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		r.Register(name, func() error {
			order = append(order, name)
			return nil
		})
	}
	r.RunOnce()
	if len(order) != 3 || order[0] != "first" || order[2] != "third" {
		t.Errorf("steps ran as %v, want registration order", order)
	}
}

func TestFailingStepDoesNotStopOthers(t *testing.T) {
	sink := &countingSink{}
	r := New(quietLogger(), sink, func() bool { return true })
	ran := false
	r.Register("broken", func() error { return errors.New("boom") })
	r.Register("after", func() error {
		ran = true
		return nil
	})
	r.RunOnce()
	if !ran {
		t.Error("step after a failure did not run")
	}
	if sink.raised != 1 {
		t.Errorf("errors raised = %d, want 1", sink.raised)
	}
}

func TestPanickingStepIsContained(t *testing.T) {
	sink := &countingSink{}
	r := New(quietLogger(), sink, func() bool { return true })
	ran := false
	r.Register("panicky", func() error { panic("wild pointer") })
	r.Register("after", func() error {
		ran = true
		return nil
	})
	r.RunOnce()
	if !ran {
		t.Error("step after a panic did not run")
	}
	if sink.raised != 1 {
		t.Errorf("errors raised = %d, want 1", sink.raised)
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	cycles := 0
	r := New(quietLogger(), nil, func() bool { return cycles >= 3 })
	r.SetSleep(func(time.Duration) {})
	r.Register("count", func() error {
		cycles++
		return nil
	})
	r.Run()
	if cycles != 3 {
		t.Errorf("ran %d cycles, want 3", cycles)
	}
	if r.Cycles() != 3 {
		t.Errorf("Cycles() = %d, want 3", r.Cycles())
	}
}
