package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/reduce"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/types"
)

// fakeReducer returns a canned layout and records what it was given.
type fakeReducer struct {
	layout [][2]float64
	err    error

	gotVectors [][]float32
	gotParams  reduce.Params
}

func (f *fakeReducer) Reduce(_ context.Context, vectors [][]float32, p reduce.Params) ([][2]float64, error) {
	f.gotVectors = vectors
	f.gotParams = p
	if f.err != nil {
		return nil, f.err
	}
	return f.layout, nil
}

func TestReduceWorker_Run_WritesCoordinatesBack(t *testing.T) {
	embStore := &fakeEmbeddingStore{vectors: []types.Embedding{
		{DatasetID: "ds1", SampleID: "s1", Vector: []float32{1, 0}},
		{DatasetID: "ds1", SampleID: "s2", Vector: []float32{0, 1}},
	}}
	r := &fakeReducer{layout: [][2]float64{{1.5, -2.5}, {3, 4}}}
	w := NewReduceWorker(embStore, r)

	rec := &progressRecorder{}
	require.NoError(t, w.Run("ds1", reduce.Params{})(context.Background(), rec.update))

	require.True(t, embStore.coordsSet)
	assert.Equal(t, []embeddings.Coordinate{
		{SampleID: "s1", X: 1.5, Y: -2.5},
		{SampleID: "s2", X: 3, Y: 4},
	}, embStore.coords)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, r.gotVectors)

	assert.Contains(t, rec.statuses(), StatusFitting)
	last := rec.last(t)
	assert.Equal(t, StatusComplete, last.Status)
	assert.Equal(t, "Reduced 2 embeddings to 2D", last.Message)
	assert.Equal(t, 2, last.Processed)
}

func TestReduceWorker_Run_NoEmbeddingsReportsErrorWithoutFailing(t *testing.T) {
	embStore := &fakeEmbeddingStore{}
	w := NewReduceWorker(embStore, &fakeReducer{})

	rec := &progressRecorder{}
	require.NoError(t, w.Run("ds1", reduce.Params{})(context.Background(), rec.update))

	last := rec.last(t)
	assert.Equal(t, StatusError, last.Status)
	assert.Equal(t, "No embeddings found. Run embedding generation first.", last.Message)
	assert.False(t, embStore.coordsSet)
}

func TestReduceWorker_Run_PassesParamsToReducer(t *testing.T) {
	embStore := &fakeEmbeddingStore{vectors: []types.Embedding{
		{DatasetID: "ds1", SampleID: "s1", Vector: []float32{1}},
	}}
	r := &fakeReducer{layout: [][2]float64{{0, 0}}}
	w := NewReduceWorker(embStore, r)

	p := reduce.Params{Neighbors: 5, MinDist: 0.3, Seed: 7}
	require.NoError(t, w.Run("ds1", p)(context.Background(), (&progressRecorder{}).update))

	assert.Equal(t, p, r.gotParams)
}

func TestReduceWorker_Run_ReducerErrorAborts(t *testing.T) {
	embStore := &fakeEmbeddingStore{vectors: []types.Embedding{
		{DatasetID: "ds1", SampleID: "s1", Vector: []float32{1}},
	}}
	w := NewReduceWorker(embStore, &fakeReducer{err: skerr.Fmt("vector width mismatch")})

	err := w.Run("ds1", reduce.Params{})(context.Background(), (&progressRecorder{}).update)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector width mismatch")
	assert.False(t, embStore.coordsSet)
}
