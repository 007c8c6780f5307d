// Package vecstore provides the nearest-neighbour index over sample
// embeddings. Each dataset gets its own collection, synced lazily from the
// embeddings store and scored by cosine similarity.
package vecstore

import (
	"context"

	"github.com/visionlens/visionlens/go/types"
)

// NoMinScore disables the score floor on Query. Cosine similarity is
// bounded below by -1.
const NoMinScore = -2.0

// DefaultSyncBatchSize is how many vectors are upserted per batch while a
// collection syncs from its source.
const DefaultSyncBatchSize = 500

// Neighbor is one similarity query result.
type Neighbor struct {
	SampleID string  `json:"sample_id"`
	Score    float64 `json:"score"`
}

// Point is one vector in a collection. Vectors come back unit-normalized;
// cosine scores are unaffected.
type Point struct {
	SampleID string
	Vector   []float32
}

// VectorSource supplies a dataset's stored vectors for syncing. Satisfied
// by embeddings.Store.
type VectorSource interface {
	ListVectors(ctx context.Context, datasetID string) ([]types.Embedding, error)
}

// Store is the nearest-neighbour index over per-dataset collections.
type Store interface {
	// EnsureCollection creates the dataset's collection if missing, syncing
	// every stored vector from the source. A no-op when already synced.
	EnsureCollection(ctx context.Context, datasetID string) error

	// Invalidate drops the collection so the next query re-syncs. Called
	// when embeddings are regenerated or the dataset is deleted.
	Invalidate(ctx context.Context, datasetID string) error

	// Query returns up to limit neighbours of vector, sorted by descending
	// cosine similarity, ties broken by ascending sample id. Results with a
	// score below minScore are dropped; pass NoMinScore to keep everything.
	// The collection is synced on first use.
	Query(ctx context.Context, datasetID string, vector []float32, limit int, minScore float64) ([]Neighbor, error)

	// Points returns every point in the dataset's collection, ordered by
	// sample id. The collection is synced on first use.
	Points(ctx context.Context, datasetID string) ([]Point, error)
}
