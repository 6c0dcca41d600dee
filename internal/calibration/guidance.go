package calibration

import (
	"fmt"
	"math"
)

// Grade ranks a passing edge verdict for display.
type Grade string

const (
	GradeExcellent  Grade = "excellent"
	GradeGood       Grade = "good"
	GradeAcceptable Grade = "acceptable"
	GradeFailed     Grade = "failed"
)

// recalibrateCentreMm is the deviation beyond which the centre itself is
// assumed to be wrong rather than the edge reading.
const recalibrateCentreMm = 50.0

func GradeOf(v Verdict) Grade {
	if !v.IsInTolerance {
		return GradeFailed
	}
	switch d := math.Abs(v.DifferenceMm); {
	case d <= 1.0:
		return GradeExcellent
	case d <= 3.0:
		return GradeGood
	}
	return GradeAcceptable
}

// Advice is the operator guidance for a failed verdict. Passing verdicts get none.
func Advice(v Verdict) string {
	if v.IsInTolerance {
		return ""
	}
	if math.Abs(v.DifferenceMm) > recalibrateCentreMm {
		return "Recalibrate centre position."
	}
	return "Remeasure edge or check circle alignment."
}

// EdgeStatus is the status line shown after an edge verification.
func EdgeStatus(v Verdict) string {
	d := math.Abs(v.DifferenceMm)
	if v.IsInTolerance {
		return fmt.Sprintf("Edge verification PASSED. Difference: %.1fmm (within ±%.1fmm tolerance). Ready to measure.",
			d, v.ToleranceAppliedMm)
	}
	return fmt.Sprintf("Edge verification FAILED tolerance check. Difference: %.1fmm (exceeds ±%.1fmm tolerance). %s",
		d, v.ToleranceAppliedMm, Advice(v))
}
