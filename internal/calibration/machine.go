package calibration

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStepOrder      = errors.New("calibration step is not available yet")
	ErrOutOfTolerance = errors.New("edge verification is not within tolerance")
)

// Machine holds the calibration of a single device. It is not safe for
// concurrent use; Controller serialises access.
type Machine struct {
	state State
}

func NewMachine(c Circle) *Machine {
	return &Machine{state: CircleSelected{Circle: c}}
}

// Restore wraps a state loaded from storage.
func Restore(s State) *Machine {
	return &Machine{state: s}
}

func (m *Machine) State() State { return m.state }
func (m *Machine) Step() Step   { return m.state.Step() }
func (m *Machine) Circle() Circle {
	return m.state.circle()
}

// Ready is derived from the current state on every call.
func (m *Machine) Ready() bool {
	return Ready(m.state)
}

// SelectCircle always returns to step 1. Any centre, edge or check mark is
// discarded, even when the circle is unchanged.
func (m *Machine) SelectCircle(c Circle) {
	m.state = CircleSelected{Circle: c}
}

// SetCentre records the station position. It may be called from any step and
// discards the edge and check mark, which were measured against the old centre.
func (m *Machine) SetCentre(station Point, at time.Time) {
	m.state = CentreSet{
		CircleSelected: CircleSelected{Circle: m.state.circle()},
		Station:        station,
		SetAt:          at,
	}
}

// VerifyEdge stores the verdict whether or not it passed. It replaces any
// earlier verdict and drops the check mark.
func (m *Machine) VerifyEdge(v Verdict) error {
	c, ok := centreOf(m.state)
	if !ok {
		return fmt.Errorf("%w: set the circle centre before verifying the edge", ErrStepOrder)
	}
	m.state = EdgeVerified{CentreSet: c, Edge: v}
	return nil
}

// RecordCheckMark requires an in-tolerance edge verdict.
func (m *Machine) RecordCheckMark(value string) error {
	e, ok := edgeOf(m.state)
	if !ok {
		return fmt.Errorf("%w: verify the circle edge before recording a check mark", ErrStepOrder)
	}
	if !e.Edge.IsInTolerance {
		return fmt.Errorf("%w: %.1fmm exceeds ±%.1fmm", ErrOutOfTolerance, e.Edge.DifferenceMm, e.Edge.ToleranceAppliedMm)
	}
	m.state = CheckMarkRecorded{EdgeVerified: e, CheckMark: value}
	return nil
}

// Retry returns to the start of step: that step's result and everything after
// it are cleared. Retrying the step that is up next is a no-op. Retrying a
// step further ahead would skip one and fails with ErrStepOrder.
func (m *Machine) Retry(step Step) error {
	if step < StepCircleSelected || step > StepCheckMarkRecorded {
		return fmt.Errorf("unknown calibration step %d", int(step))
	}
	cur := m.state.Step()
	switch {
	case step == StepCircleSelected:
		m.state = rollback(m.state, StepCircleSelected)
	case cur >= step:
		m.state = rollback(m.state, step-1)
	case cur == step-1:
	default:
		return fmt.Errorf("%w: cannot retry %s from %s", ErrStepOrder, step, cur)
	}
	return nil
}

// Reset returns to step 1 and keeps the circle.
func (m *Machine) Reset() {
	m.state = CircleSelected{Circle: m.state.circle()}
}
