package reduce

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/visionlens/visionlens/go/skerr"
)

const (
	epochs     = 200
	negSamples = 5
	initSpread = 10.0
	// maxStep bounds any single gradient component, in units of the
	// current learning rate.
	maxStep = 4.0
)

// Native is a stochastic neighbour embedding: PCA via SVD seeds the
// layout, then points are pulled toward their nearest cosine neighbours
// and pushed away from randomly sampled non-neighbours with a linearly
// decaying step. All randomness comes from the seeded source, so the
// layout is reproducible.
type Native struct{}

// Reduce implements Reducer.
func (Native) Reduce(ctx context.Context, vectors [][]float32, p Params) ([][2]float64, error) {
	p = p.withDefaults()
	n := len(vectors)
	if n == 0 {
		return [][2]float64{}, nil
	}
	if n == 1 {
		return [][2]float64{{0, 0}}, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, skerr.Fmt("vector %d has dim %d, want %d", i, len(v), dim)
		}
	}
	if dim == 0 {
		return nil, skerr.Fmt("vectors have dim 0")
	}

	k := p.Neighbors
	if k > n-1 {
		k = n - 1
	}

	rng := rand.New(rand.NewSource(p.Seed))
	unit := toUnitRows(vectors)
	coords := pcaInit(unit, rng)
	nbrs := nearestNeighbors(unit, k)

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, skerr.Wrap(err)
		}
		alpha := 1.0 - float64(epoch)/float64(epochs)
		for i := range coords {
			for _, j := range nbrs[i] {
				attract(&coords[i], &coords[j], alpha, p.MinDist)
				for s := 0; s < negSamples; s++ {
					r := rng.Intn(n)
					if r == i || r == j {
						continue
					}
					repel(&coords[i], coords[r], alpha)
				}
			}
		}
	}
	return coords, nil
}

// attract moves both endpoints toward each other, harder the farther
// apart they are. Pairs already within minDist are left alone.
func attract(a, b *[2]float64, alpha, minDist float64) {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	d2 := dx*dx + dy*dy
	if math.Sqrt(d2) <= minDist {
		return
	}
	coeff := d2 / (1 + d2)
	sx := clip(coeff*dx, maxStep) * alpha
	sy := clip(coeff*dy, maxStep) * alpha
	a[0] += sx
	a[1] += sy
	b[0] -= sx
	b[1] -= sy
}

// repel pushes a away from r, sharply when they nearly coincide.
func repel(a *[2]float64, r [2]float64, alpha float64) {
	dx := a[0] - r[0]
	dy := a[1] - r[1]
	d2 := dx*dx + dy*dy
	coeff := 1 / ((0.001 + d2) * (1 + d2))
	a[0] += clip(coeff*dx, maxStep) * alpha
	a[1] += clip(coeff*dy, maxStep) * alpha
}

func clip(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

// toUnitRows converts to float64 rows of unit length, so cosine
// similarity becomes a dot product.
func toUnitRows(vectors [][]float32) [][]float64 {
	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		row := make([]float64, len(v))
		for j, x := range v {
			row[j] = float64(x)
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
		rows[i] = row
	}
	return rows
}

// pcaInit projects the centered data onto its top two principal
// components and rescales the layout to a fixed spread. Seeded jitter
// breaks exact ties between identical inputs.
func pcaInit(rows [][]float64, rng *rand.Rand) [][2]float64 {
	n := len(rows)
	d := len(rows[0])

	means := make([]float64, d)
	for _, r := range rows {
		floats.Add(means, r)
	}
	floats.Scale(1/float64(n), means)

	data := mat.NewDense(n, d, nil)
	for i, r := range rows {
		for j, v := range r {
			data.Set(i, j, v-means[j])
		}
	}

	coords := make([][2]float64, n)
	var svd mat.SVD
	if svd.Factorize(data, mat.SVDThin) {
		var u mat.Dense
		svd.UTo(&u)
		s := svd.Values(nil)
		for i := range coords {
			coords[i][0] = u.At(i, 0) * s[0]
			if len(s) > 1 {
				coords[i][1] = u.At(i, 1) * s[1]
			}
		}
	}

	maxAbs := 0.0
	for _, c := range coords {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(c[0]), math.Abs(c[1])))
	}
	if maxAbs > 0 {
		scale := initSpread / maxAbs
		for i := range coords {
			coords[i][0] *= scale
			coords[i][1] *= scale
		}
	}
	for i := range coords {
		coords[i][0] += (rng.Float64() - 0.5) * 1e-4
		coords[i][1] += (rng.Float64() - 0.5) * 1e-4
	}
	return coords
}

// nearestNeighbors returns each row's k most cosine-similar rows,
// excluding itself. Ties resolve to the lower index, keeping the result
// deterministic.
func nearestNeighbors(unit [][]float64, k int) [][]int {
	n := len(unit)
	nbrs := make([][]int, n)
	type scored struct {
		idx   int
		score float64
	}
	for i := range unit {
		candidates := make([]scored, 0, n-1)
		for j := range unit {
			if j == i {
				continue
			}
			candidates = append(candidates, scored{idx: j, score: floats.Dot(unit[i], unit[j])})
		}
		sort.Slice(candidates, func(a, b int) bool {
			if candidates[a].score != candidates[b].score {
				return candidates[a].score > candidates[b].score
			}
			return candidates[a].idx < candidates[b].idx
		})
		row := make([]int, k)
		for j := 0; j < k; j++ {
			row[j] = candidates[j].idx
		}
		nbrs[i] = row
	}
	return nbrs
}

// Confirm Native implements Reducer.
var _ Reducer = Native{}
