// Package trajectory models the piecewise-linear path the host streams
// for one axis. Each segment is a short straight-line approximation of
// the target's arc; the motor extrapolates its position from the
// earliest live segment.
package trajectory

import (
	"fmt"
	"math"
	"strconv"

	"mountctl/pkg/clock"
	"mountctl/pkg/log"
	"mountctl/pkg/protocol"
)

// Point is one linear trajectory segment. Immutable after creation;
// the per-second gradients are computed once so extrapolation is a
// multiply-add.
type Point struct {
	StartTime     int64
	StartAngle    float64
	EndTime       int64
	EndAngle      float64
	StartPosition int
	EndPosition   int

	DegreesPerSecond float64
	StepsPerSecond   float64
}

// NewPoint builds a segment and derives its gradients. A zero-duration
// segment has zero gradients.
func NewPoint(startTime int64, startAngle float64, endTime int64, endAngle float64, startPos, endPos int) Point {
	p := Point{
		StartTime:     startTime,
		StartAngle:    startAngle,
		EndTime:       endTime,
		EndAngle:      endAngle,
		StartPosition: startPos,
		EndPosition:   endPos,
	}
	if dt := endTime - startTime; dt != 0 {
		p.DegreesPerSecond = (endAngle - startAngle) / float64(dt)
		p.StepsPerSecond = float64(endPos-startPos) / float64(dt)
	}
	return p
}

// ParsePoint parses the segment fields of a trajectory message:
//
//	trajectory <ts> <motor> <startTs> <startAngle> <endTs> <endAngle> <startPos> <endPos>
//	    0       1      2       3          4           5        6         7         8
func ParsePoint(fields []string) (Point, error) {
	if len(fields) < 9 {
		return Point{}, fmt.Errorf("trajectory: segment needs 9 fields, got %d", len(fields))
	}
	startTime, err := protocol.ParseTime(fields[3])
	if err != nil {
		return Point{}, err
	}
	startAngle, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return Point{}, fmt.Errorf("trajectory: start angle: %w", err)
	}
	endTime, err := protocol.ParseTime(fields[5])
	if err != nil {
		return Point{}, err
	}
	endAngle, err := strconv.ParseFloat(fields[6], 64)
	if err != nil {
		return Point{}, fmt.Errorf("trajectory: end angle: %w", err)
	}
	startPos, err := strconv.Atoi(fields[7])
	if err != nil {
		return Point{}, fmt.Errorf("trajectory: start position: %w", err)
	}
	endPos, err := strconv.Atoi(fields[8])
	if err != nil {
		return Point{}, fmt.Errorf("trajectory: end position: %w", err)
	}
	return NewPoint(startTime, startAngle, endTime, endAngle, startPos, endPos), nil
}

// Printable renders the segment for log messages.
func (p Point) Printable() string {
	return fmt.Sprintf("%s %v %s %v",
		protocol.FormatTime(p.StartTime), p.StartAngle,
		protocol.FormatTime(p.EndTime), p.EndAngle)
}

// ExpectedPosition extrapolates the step position at the given time.
// Before the segment starts it loiters at the start position (wait at
// the rise point); after it ends it holds the end position; between
// the two it interpolates on the precomputed gradient, including the
// sub-second fraction for smooth tracking.
func (p Point) ExpectedPosition(sec int64, frac float64) int {
	if sec >= p.EndTime {
		sec = p.EndTime
		frac = 0
	} else if sec < p.StartTime {
		sec = p.StartTime
		frac = 0
	}
	elapsed := float64(sec - p.StartTime)
	pos := elapsed*p.StepsPerSecond + float64(p.StartPosition)
	pos += frac * p.StepsPerSecond
	return int(math.Round(pos))
}

// Trajectory is the ordered-by-time segment list for one axis. It is
// owned exclusively by that axis's motor controller.
type Trajectory struct {
	name   string
	points []Point
	valid  bool
	clk    *clock.Clock
	relay  *log.Relay
}

// New creates an empty trajectory for the named axis.
func New(name string, clk *clock.Clock, relay *log.Relay) *Trajectory {
	return &Trajectory{name: name, clk: clk, relay: relay}
}

// Clean prunes segments whose end time has passed, then revalidates.
func (t *Trajectory) Clean() {
	now := t.clk.Now()
	for len(t.points) > 0 && t.points[0].EndTime < now {
		t.relay.Log("trajectory expired (", t.name, t.points[0].Printable(), ")")
		t.points = t.points[1:]
	}
	t.validate()
}

// Add appends a segment, keeping the list ordered by start time. Any
// trailing segments whose start time is not strictly before the new
// segment's are removed first; the host resends whatever was
// discarded. This makes delivery self-correcting under loss,
// duplication, and reordering.
func (t *Trajectory) Add(p Point) {
	t.Clean()
	for len(t.points) > 0 && p.StartTime <= t.points[len(t.points)-1].StartTime {
		t.points = t.points[:len(t.points)-1]
	}
	t.points = append(t.points, p)
	t.validate()
}

// Clear discards every segment.
func (t *Trajectory) Clear() {
	t.points = nil
	t.validate()
}

// Len returns the number of live segments.
func (t *Trajectory) Len() int { return len(t.points) }

// Valid reports whether ExpectedPosition can currently be trusted:
// the list is non-empty and outlives the present moment.
func (t *Trajectory) Valid() bool { return t.valid }

func (t *Trajectory) validate() {
	t.valid = t.ValidUntil() > t.clk.Now()
}

// ValidUntil returns the end time of the last segment, or "now" when
// the trajectory is empty (i.e. already expired). The host watches
// this to know when to send more segments.
func (t *Trajectory) ValidUntil() int64 {
	if len(t.points) > 0 {
		return t.points[len(t.points)-1].EndTime
	}
	return t.clk.Now()
}

// EndAngle returns the final angle of the path so far.
func (t *Trajectory) EndAngle() (float64, bool) {
	if len(t.points) == 0 {
		return 0, false
	}
	return t.points[len(t.points)-1].EndAngle, true
}

// ExpectedPosition returns the step position the axis should be at
// right now, based on the earliest live segment. The second return is
// false when no segments remain.
func (t *Trajectory) ExpectedPosition() (int, bool) {
	t.Clean()
	if len(t.points) == 0 {
		return 0, false
	}
	sec, frac := t.clk.NowFractional()
	return t.points[0].ExpectedPosition(sec, frac), true
}
