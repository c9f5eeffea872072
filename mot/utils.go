package mot

import "math"

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// withinTolerance checks that both axes of two points differ by no more than tol
func withinTolerance(p1, p2 Point, tol float64) bool {
	return math.Abs(p1.X-p2.X) <= tol && math.Abs(p1.Y-p2.Y) <= tol
}
