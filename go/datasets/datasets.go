// Package datasets defines the storage API for datasets and their
// categories.
package datasets

import (
	"context"

	"github.com/visionlens/visionlens/go/types"
)

// Store tracks datasets and the category registry of each.
type Store interface {
	// Create inserts a new dataset row. Returns a Conflict error if the id
	// already exists.
	Create(ctx context.Context, d types.Dataset) error

	// Get returns the dataset or a NotFound error.
	Get(ctx context.Context, id string) (types.Dataset, error)

	// Exists returns true if the dataset row exists.
	Exists(ctx context.Context, id string) (bool, error)

	// List returns all datasets, newest first.
	List(ctx context.Context) ([]types.Dataset, error)

	// Delete removes the dataset and everything hanging off it: samples,
	// annotations, categories, embeddings, saved views and triage
	// overrides, all in one transaction. Deleting an absent dataset is a
	// NotFound error.
	Delete(ctx context.Context, id string) error

	// AddCounts accumulates image and ground-truth annotation counters.
	// Used by ingestion so multiple splits sum into one dataset.
	AddCounts(ctx context.Context, id string, images, annotations int64) error

	// RefreshDerivedCounts recomputes category_count and prediction_count
	// from the Categories and Annotations tables.
	RefreshDerivedCounts(ctx context.Context, id string) error

	// InsertCategories inserts category rows, ignoring ids that already
	// exist for the dataset.
	InsertCategories(ctx context.Context, cats []types.Category) error

	// ListCategories returns the dataset's categories ordered by id.
	ListCategories(ctx context.Context, id string) ([]types.Category, error)
}
