package calibration

import "math"

// Edge tolerances in millimetres.
const (
	ToleranceThrowsCircleMm = 5.0
	ToleranceJavelinMm      = 10.0
)

// boundaryEpsilonMm absorbs float noise from the metre to millimetre
// conversion so a reading exactly on the tolerance counts as inside.
const boundaryEpsilonMm = 1e-9

// Verdict is the outcome of an edge verification.
type Verdict struct {
	MeasuredRadius     float64 `json:"measuredRadius"`
	DifferenceMm       float64 `json:"differenceMm"`
	IsInTolerance      bool    `json:"isInTolerance"`
	ToleranceAppliedMm float64 `json:"toleranceAppliedMm"`
}

// ToleranceFor returns the permitted edge deviation for a circle type.
func ToleranceFor(t CircleType) float64 {
	if t == JavelinArc {
		return ToleranceJavelinMm
	}
	return ToleranceThrowsCircleMm
}

// Evaluate compares a measured radius with the target radius.
func Evaluate(t CircleType, measuredRadius, targetRadius float64) Verdict {
	diffMm := (measuredRadius - targetRadius) * 1000.0
	tol := ToleranceFor(t)
	return Verdict{
		MeasuredRadius:     measuredRadius,
		DifferenceMm:       diffMm,
		IsInTolerance:      math.Abs(diffMm) <= tol+boundaryEpsilonMm,
		ToleranceAppliedMm: tol,
	}
}
