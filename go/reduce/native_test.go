package reduce

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusteredVectors returns two tight clusters of three vectors each: the
// first three point along e1, the last three along e2.
func clusteredVectors() [][]float32 {
	return [][]float32{
		{1, 0, 0.01, 0},
		{1, 0.02, 0, 0},
		{0.98, 0, 0, 0.01},
		{0, 1, 0.01, 0},
		{0.02, 1, 0, 0},
		{0, 0.97, 0.01, 0},
	}
}

func dist(a, b [2]float64) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

func TestReduce_SameSeed_IdenticalLayout(t *testing.T) {
	vectors := clusteredVectors()
	first, err := Native{}.Reduce(context.Background(), vectors, Params{})
	require.NoError(t, err)
	second, err := Native{}.Reduce(context.Background(), vectors, Params{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReduce_DifferentSeed_DifferentLayout(t *testing.T) {
	vectors := clusteredVectors()
	first, err := Native{}.Reduce(context.Background(), vectors, Params{Seed: 42})
	require.NoError(t, err)
	second, err := Native{}.Reduce(context.Background(), vectors, Params{Seed: 43})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestReduce_ClampsNeighborsToPopulation(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	got, err := Native{}.Reduce(context.Background(), vectors, Params{Neighbors: 15})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestReduce_KeepsClustersApart(t *testing.T) {
	got, err := Native{}.Reduce(context.Background(), clusteredVectors(), Params{Neighbors: 2})
	require.NoError(t, err)
	require.Len(t, got, 6)

	centroid := func(points [][2]float64) [2]float64 {
		var c [2]float64
		for _, p := range points {
			c[0] += p[0]
			c[1] += p[1]
		}
		c[0] /= float64(len(points))
		c[1] /= float64(len(points))
		return c
	}
	a, b := got[:3], got[3:]
	ca, cb := centroid(a), centroid(b)

	intra := 0.0
	for _, p := range a {
		intra += dist(p, ca)
	}
	for _, p := range b {
		intra += dist(p, cb)
	}
	intra /= 6

	assert.Greater(t, dist(ca, cb), 2*intra)
}

func TestReduce_EmptyInput_ReturnsEmpty(t *testing.T) {
	got, err := Native{}.Reduce(context.Background(), nil, Params{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReduce_SinglePoint_AtOrigin(t *testing.T) {
	got, err := Native{}.Reduce(context.Background(), [][]float32{{1, 2, 3}}, Params{})
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{0, 0}}, got)
}

func TestReduce_MismatchedDims_ReturnsError(t *testing.T) {
	_, err := Native{}.Reduce(context.Background(), [][]float32{{1, 0}, {1}}, Params{})
	assert.Error(t, err)
}

func TestReduce_CancelledContext_Stops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Native{}.Reduce(ctx, clusteredVectors(), Params{})
	assert.Error(t, err)
}
