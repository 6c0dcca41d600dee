package calibration

import (
	"fmt"
	"time"
)

// Step is the position of a calibration in its ordered sequence.
type Step int

const (
	StepCircleSelected Step = iota + 1
	StepCentreSet
	StepEdgeVerified
	StepCheckMarkRecorded
)

func (s Step) String() string {
	switch s {
	case StepCircleSelected:
		return "CIRCLE_SELECTED"
	case StepCentreSet:
		return "CENTRE_SET"
	case StepEdgeVerified:
		return "EDGE_VERIFIED"
	case StepCheckMarkRecorded:
		return "CHECK_MARK_RECORDED"
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// Point is a position in metres relative to the circle centre.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// State is one of CircleSelected, CentreSet, EdgeVerified or
// CheckMarkRecorded. Each later state embeds the one before it, so a state
// only ever carries the results that are valid at its step.
type State interface {
	Step() Step
	circle() Circle
}

type CircleSelected struct {
	Circle Circle
}

func (CircleSelected) Step() Step       { return StepCircleSelected }
func (s CircleSelected) circle() Circle { return s.Circle }

type CentreSet struct {
	CircleSelected
	Station Point
	SetAt   time.Time
}

func (CentreSet) Step() Step { return StepCentreSet }

type EdgeVerified struct {
	CentreSet
	Edge Verdict
}

func (EdgeVerified) Step() Step { return StepEdgeVerified }

// CheckMarkRecorded is only reachable from an in-tolerance EdgeVerified.
type CheckMarkRecorded struct {
	EdgeVerified
	CheckMark string
}

func (CheckMarkRecorded) Step() Step { return StepCheckMarkRecorded }

// CircleOf returns the circle every state carries.
func CircleOf(s State) Circle {
	return s.circle()
}

func centreOf(s State) (CentreSet, bool) {
	switch v := s.(type) {
	case CentreSet:
		return v, true
	case EdgeVerified:
		return v.CentreSet, true
	case CheckMarkRecorded:
		return v.CentreSet, true
	}
	return CentreSet{}, false
}

func edgeOf(s State) (EdgeVerified, bool) {
	switch v := s.(type) {
	case EdgeVerified:
		return v, true
	case CheckMarkRecorded:
		return v.EdgeVerified, true
	}
	return EdgeVerified{}, false
}

// EdgeOf returns the stored edge verdict, if any.
func EdgeOf(s State) (Verdict, bool) {
	e, ok := edgeOf(s)
	return e.Edge, ok
}

// Ready reports whether live measurement may proceed: the centre is set and
// the edge verdict is in tolerance.
func Ready(s State) bool {
	v, ok := EdgeOf(s)
	return ok && v.IsInTolerance
}

// rollback returns s reduced to the given step. Steps beyond s are not
// reachable this way and return s unchanged.
func rollback(s State, to Step) State {
	if s.Step() <= to {
		return s
	}
	switch to {
	case StepCircleSelected:
		return CircleSelected{Circle: s.circle()}
	case StepCentreSet:
		c, _ := centreOf(s)
		return c
	case StepEdgeVerified:
		e, _ := edgeOf(s)
		return e
	}
	return s
}
