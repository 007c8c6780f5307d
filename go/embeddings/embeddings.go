// Package embeddings defines the storage API for per-sample feature
// vectors and their 2-D projections.
package embeddings

import (
	"context"

	"github.com/visionlens/visionlens/go/types"
)

// Status summarises a dataset's embedding state for the status endpoint.
type Status struct {
	DatasetID     string `json:"dataset_id"`
	HasEmbeddings bool   `json:"has_embeddings"`
	Count         int64  `json:"embedding_count"`
	ModelName     string `json:"model_name,omitempty"`
	HasReduction  bool   `json:"has_reduction"`
}

// Point is one reduced scatter-plot point, enriched with sample metadata
// and one representative label per source kind. The camelCase keys are
// what the scatter-plot frontend consumes.
type Point struct {
	SampleID      string  `json:"sampleId"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	FileName      string  `json:"fileName"`
	ThumbnailPath string  `json:"thumbnailPath,omitempty"`
	GTLabel       string  `json:"gtLabel,omitempty"`
	PredLabel     string  `json:"predLabel,omitempty"`
}

// Coordinate pairs a sample with its reduced position, for writes.
type Coordinate struct {
	SampleID string
	X        float64
	Y        float64
}

// Store tracks embeddings.
type Store interface {
	// InsertBatch bulk-inserts embeddings.
	InsertBatch(ctx context.Context, embs []types.Embedding) error

	// DeleteForDataset drops every embedding of the dataset, returning how
	// many were removed. Regenerating embeddings starts from a clean slate.
	DeleteForDataset(ctx context.Context, datasetID string) (int64, error)

	// ListVectors returns every embedding with its vector, ordered by
	// sample id. x/y are included when present.
	ListVectors(ctx context.Context, datasetID string) ([]types.Embedding, error)

	// SetCoordinates writes the reduced 2-D positions.
	SetCoordinates(ctx context.Context, datasetID string, coords []Coordinate) error

	// Coordinates returns the reduced points joined with sample metadata.
	// Empty result when the reduce task has not run.
	Coordinates(ctx context.Context, datasetID string) ([]Point, error)

	// GetStatus reports whether embeddings and reductions exist.
	GetStatus(ctx context.Context, datasetID string) (Status, error)
}
