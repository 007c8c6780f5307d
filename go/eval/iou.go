package eval

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// IoU returns the intersection-over-union of two boxes. Degenerate boxes
// with zero union area yield 0.
func IoU(a, b Box) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.W, b.X+b.W)
	y2 := math.Min(a.Y+a.H, b.Y+b.H)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// iouMatrix computes pairwise IoU with one row per prediction and one column
// per ground-truth box. Both slices must be non-empty.
func iouMatrix(preds, gts []Detection) *mat.Dense {
	m := mat.NewDense(len(preds), len(gts), nil)
	for i, p := range preds {
		for j, g := range gts {
			m.Set(i, j, IoU(p.Box, g.Box))
		}
	}
	return m
}
