// Package reduce defines the 2-D projection capability used for the
// embedding scatter plot, plus a native gonum-based implementation.
package reduce

import "context"

// Defaults for Params. Zero-value fields are replaced by these.
const (
	DefaultNeighbors = 15
	DefaultMinDist   = 0.1
	DefaultSeed      = 42
)

// Params configure a reduction. The distance metric is cosine.
type Params struct {
	// Neighbors is the local neighbourhood size, clamped to n-1.
	Neighbors int
	// MinDist is the minimum spacing preserved between attracted points.
	MinDist float64
	// Seed fixes the layout so repeated runs produce identical plots.
	Seed int64
}

// withDefaults fills zero-value fields.
func (p Params) withDefaults() Params {
	if p.Neighbors <= 0 {
		p.Neighbors = DefaultNeighbors
	}
	if p.MinDist <= 0 {
		p.MinDist = DefaultMinDist
	}
	if p.Seed == 0 {
		p.Seed = DefaultSeed
	}
	return p
}

// Reducer projects high-dimensional vectors onto the plane.
type Reducer interface {
	// Reduce returns one (x, y) position per input vector, in input order.
	Reduce(ctx context.Context, vectors [][]float32, p Params) ([][2]float64, error)
}
