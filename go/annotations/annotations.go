// Package annotations defines the storage API for ground-truth and
// prediction annotations.
package annotations

import (
	"context"

	"github.com/visionlens/visionlens/go/types"
)

// CategoryCount is the per-class annotation tally, split by origin.
type CategoryCount struct {
	Name        string `json:"name"`
	GroundTruth int64  `json:"ground_truth"`
	Predictions int64  `json:"predictions"`
}

// Store tracks annotations. Ground truth and prediction runs share the
// table, distinguished by source.
type Store interface {
	// InsertBatch bulk-inserts annotations. Rows whose
	// (dataset_id, annotation_id) already exist are left untouched.
	InsertBatch(ctx context.Context, anns []types.Annotation) error

	// Get returns one annotation or a NotFound error.
	Get(ctx context.Context, datasetID, annotationID string) (types.Annotation, error)

	// ListBySample returns the sample's annotations. An empty sources list
	// means all sources.
	ListBySample(ctx context.Context, datasetID, sampleID string, sources []string) ([]types.Annotation, error)

	// ListBySamples returns annotations for many samples at once, grouped
	// by sample id.
	ListBySamples(ctx context.Context, datasetID string, sampleIDs []string, sources []string) (map[string][]types.Annotation, error)

	// ListBySource returns every annotation with the given source, ordered
	// by sample then annotation id. A non-empty split restricts to
	// annotations whose sample is in that split; NULL splits match
	// "unassigned".
	ListBySource(ctx context.Context, datasetID, source, split string) ([]types.Annotation, error)

	// Create inserts one ground-truth annotation and bumps the dataset's
	// annotation counter in the same transaction.
	Create(ctx context.Context, a types.Annotation) error

	// Update rewrites the box and category of a ground-truth annotation.
	// Predictions cannot be edited; updating one is a NotFound error.
	Update(ctx context.Context, a types.Annotation) error

	// Delete removes a ground-truth annotation and decrements the
	// dataset's annotation counter in the same transaction.
	Delete(ctx context.Context, datasetID, annotationID string) error

	// DeleteSource removes every annotation of a prediction run, returning
	// how many were dropped. Used to make prediction imports idempotent.
	DeleteSource(ctx context.Context, datasetID, source string) (int64, error)

	// Sources returns the distinct sources present, ground_truth included,
	// in lexicographic order.
	Sources(ctx context.Context, datasetID string) ([]string, error)

	// CountsByCategory returns per-class annotation counts split into
	// ground truth and predictions, ordered by class name. A non-empty
	// split restricts the tally to samples in that split.
	CountsByCategory(ctx context.Context, datasetID, split string) ([]CategoryCount, error)
}
