package calibration

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// CircleType is the throwing-event category being calibrated.
type CircleType string

const (
	Shot       CircleType = "SHOT"
	Discus     CircleType = "DISCUS"
	Hammer     CircleType = "HAMMER"
	JavelinArc CircleType = "JAVELIN_ARC"
	Custom     CircleType = "CUSTOM"
)

// UKA official circle radii in metres.
const (
	UkaRadiusShot       = 1.0675
	UkaRadiusDiscus     = 1.250
	UkaRadiusHammer     = 1.0675
	UkaRadiusJavelinArc = 8.000
)

var ErrInvalidRadius = errors.New("target radius must be a positive number of metres")

var radii = map[CircleType]float64{
	Shot:       UkaRadiusShot,
	Discus:     UkaRadiusDiscus,
	Hammer:     UkaRadiusHammer,
	JavelinArc: UkaRadiusJavelinArc,
}

var displayNames = map[CircleType]string{
	Shot:       "Shot Put",
	Discus:     "Discus",
	Hammer:     "Hammer",
	JavelinArc: "Javelin Arc",
	Custom:     "Custom",
}

// CircleTypes lists the selectable types in display order.
func CircleTypes() []CircleType {
	return []CircleType{Shot, Discus, Hammer, JavelinArc, Custom}
}

// ParseCircleType accepts the wire names case-insensitively.
func ParseCircleType(s string) (CircleType, error) {
	t := CircleType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := displayNames[t]; !ok {
		return "", fmt.Errorf("unknown circle type %q", s)
	}
	return t, nil
}

// RadiusFor returns the regulation radius. CUSTOM has none.
func RadiusFor(t CircleType) (float64, bool) {
	r, ok := radii[t]
	return r, ok
}

func (t CircleType) DisplayName() string {
	if n, ok := displayNames[t]; ok {
		return n
	}
	return string(t)
}

// Circle is a circle type with the radius it is calibrated against.
type Circle struct {
	Type   CircleType `json:"type"`
	Radius float64    `json:"radius"`
}

// NewCircle resolves the target radius. customRadius is used only for CUSTOM.
func NewCircle(t CircleType, customRadius float64) (Circle, error) {
	if t == Custom {
		if math.IsNaN(customRadius) || math.IsInf(customRadius, 0) || customRadius <= 0 {
			return Circle{}, fmt.Errorf("%w: got %v", ErrInvalidRadius, customRadius)
		}
		return Circle{Type: Custom, Radius: customRadius}, nil
	}
	r, ok := RadiusFor(t)
	if !ok {
		return Circle{}, fmt.Errorf("unknown circle type %q", t)
	}
	return Circle{Type: t, Radius: r}, nil
}

// DefaultCircle is the circle a device starts with before the operator picks one.
func DefaultCircle() Circle {
	return Circle{Type: Shot, Radius: UkaRadiusShot}
}

// Evaluate checks a measured edge radius against this circle.
func (c Circle) Evaluate(measuredRadius float64) Verdict {
	return Evaluate(c.Type, measuredRadius, c.Radius)
}
