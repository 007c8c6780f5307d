package localvecstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/types"
	"github.com/visionlens/visionlens/go/vecstore"
)

type fakeSource struct {
	calls   int
	vectors map[string][]types.Embedding
}

func (f *fakeSource) ListVectors(_ context.Context, datasetID string) ([]types.Embedding, error) {
	f.calls++
	return f.vectors[datasetID], nil
}

func emb(sampleID string, vector ...float32) types.Embedding {
	return types.Embedding{DatasetID: "ds1", SampleID: sampleID, ModelName: "m", Vector: vector}
}

func newForTest(t *testing.T, source *fakeSource) *LocalVecStore {
	s, err := New(t.TempDir(), source)
	require.NoError(t, err)
	return s
}

func TestQuery_OrdersByDescendingCosineSimilarity(t *testing.T) {
	source := &fakeSource{vectors: map[string][]types.Embedding{
		"ds1": {emb("a", 1, 0), emb("b", 0.8, 0.6), emb("c", 0, 1)},
	}}
	s := newForTest(t, source)

	got, err := s.Query(context.Background(), "ds1", []float32{1, 0}, 10, vecstore.NoMinScore)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].SampleID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, "b", got[1].SampleID)
	assert.InDelta(t, 0.8, got[1].Score, 1e-6)
	assert.Equal(t, "c", got[2].SampleID)
	assert.InDelta(t, 0.0, got[2].Score, 1e-6)
}

func TestQuery_MagnitudeDoesNotAffectScore(t *testing.T) {
	source := &fakeSource{vectors: map[string][]types.Embedding{
		"ds1": {emb("big", 100, 0), emb("small", 0.001, 0)},
	}}
	s := newForTest(t, source)

	got, err := s.Query(context.Background(), "ds1", []float32{2, 0}, 10, vecstore.NoMinScore)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.InDelta(t, 1.0, got[1].Score, 1e-6)
	// Equal scores fall back to sample id order.
	assert.Equal(t, "big", got[0].SampleID)
	assert.Equal(t, "small", got[1].SampleID)
}

func TestQuery_MinScoreDropsDistantNeighbors(t *testing.T) {
	source := &fakeSource{vectors: map[string][]types.Embedding{
		"ds1": {emb("a", 1, 0), emb("b", 0.8, 0.6), emb("c", 0, 1)},
	}}
	s := newForTest(t, source)

	got, err := s.Query(context.Background(), "ds1", []float32{1, 0}, 10, 0.95)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SampleID)
}

func TestQuery_LimitTruncates(t *testing.T) {
	source := &fakeSource{vectors: map[string][]types.Embedding{
		"ds1": {emb("a", 1, 0), emb("b", 0.8, 0.6), emb("c", 0, 1)},
	}}
	s := newForTest(t, source)

	got, err := s.Query(context.Background(), "ds1", []float32{1, 0}, 2, vecstore.NoMinScore)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].SampleID)
	assert.Equal(t, "b", got[1].SampleID)
}

func TestQuery_UnknownDataset_ReturnsEmpty(t *testing.T) {
	s := newForTest(t, &fakeSource{vectors: map[string][]types.Embedding{}})

	got, err := s.Query(context.Background(), "nope", []float32{1, 0}, 10, vecstore.NoMinScore)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEnsureCollection_SyncsOnceAndPersists(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{vectors: map[string][]types.Embedding{
		"ds1": {emb("a", 1, 0), emb("b", 0, 1)},
	}}
	s, err := New(dir, source)
	require.NoError(t, err)

	require.NoError(t, s.EnsureCollection(context.Background(), "ds1"))
	require.NoError(t, s.EnsureCollection(context.Background(), "ds1"))
	assert.Equal(t, 1, source.calls)

	// A fresh instance over the same dir restores from disk without
	// touching the source.
	empty := &fakeSource{vectors: map[string][]types.Embedding{}}
	s2, err := New(dir, empty)
	require.NoError(t, err)
	got, err := s2.Points(context.Background(), "ds1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 0, empty.calls)
}

func TestInvalidate_ForcesResync(t *testing.T) {
	source := &fakeSource{vectors: map[string][]types.Embedding{
		"ds1": {emb("a", 1, 0), emb("b", 0, 1)},
	}}
	s := newForTest(t, source)

	require.NoError(t, s.EnsureCollection(context.Background(), "ds1"))
	require.NoError(t, s.Invalidate(context.Background(), "ds1"))

	source.vectors["ds1"] = []types.Embedding{emb("only", 1, 0)}
	got, err := s.Points(context.Background(), "ds1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only", got[0].SampleID)
}

func TestInvalidate_MissingCollection_IsNoError(t *testing.T) {
	s := newForTest(t, &fakeSource{})
	require.NoError(t, s.Invalidate(context.Background(), "never-synced"))
}

func TestSync_SkipsEmptyVectors(t *testing.T) {
	source := &fakeSource{vectors: map[string][]types.Embedding{
		"ds1": {emb("a", 1, 0), {DatasetID: "ds1", SampleID: "no-vec", ModelName: "m"}},
	}}
	s := newForTest(t, source)

	got, err := s.Points(context.Background(), "ds1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SampleID)
}
