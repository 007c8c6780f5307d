package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU_IdenticalBoxes_ReturnsOne(t *testing.T) {
	b := Box{X: 10, Y: 10, W: 50, H: 50}
	assert.Equal(t, 1.0, IoU(b, b))
}

func TestIoU_DisjointBoxes_ReturnsZero(t *testing.T) {
	a := Box{X: 0, Y: 0, W: 10, H: 10}
	b := Box{X: 100, Y: 100, W: 10, H: 10}
	assert.Equal(t, 0.0, IoU(a, b))
}

func TestIoU_PartialOverlap_ReturnsRatio(t *testing.T) {
	a := Box{X: 0, Y: 0, W: 10, H: 10}
	b := Box{X: 5, Y: 0, W: 10, H: 10}
	// Intersection is 50, union is 150.
	assert.InDelta(t, 1.0/3.0, IoU(a, b), 1e-9)
}

func TestIoU_IsSymmetricAndBounded(t *testing.T) {
	boxes := []Box{
		{X: 0, Y: 0, W: 10, H: 10},
		{X: 5, Y: 5, W: 10, H: 10},
		{X: 9, Y: 9, W: 2, H: 2},
		{X: 30, Y: 30, W: 1, H: 1},
	}
	for _, a := range boxes {
		for _, b := range boxes {
			got := IoU(a, b)
			assert.Equal(t, got, IoU(b, a))
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		}
	}
}

func TestIoU_ZeroAreaBoxes_ReturnsZero(t *testing.T) {
	a := Box{X: 10, Y: 10, W: 0, H: 0}
	assert.Equal(t, 0.0, IoU(a, a))
}

func TestIoUMatrix_RowsArePredictionsColumnsAreGroundTruth(t *testing.T) {
	preds := []Detection{
		predBox("p1", "car", 0, 0, 10, 10, 0.9),
		predBox("p2", "car", 100, 100, 10, 10, 0.8),
	}
	gts := []Detection{
		gtBox("g1", "car", 0, 0, 10, 10),
	}

	m := iouMatrix(preds, gts)

	r, c := m.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 1, c)
	assert.Equal(t, 1.0, m.At(0, 0))
	assert.Equal(t, 0.0, m.At(1, 0))
}
