// Package samples defines the storage API for samples, including tag
// mutation and filtered search.
package samples

import (
	"context"

	"github.com/visionlens/visionlens/go/types"
)

// SearchOptions selects and orders a page of samples. DatasetID is
// mandatory; everything else is optional.
type SearchOptions struct {
	DatasetID string
	Split     string
	Category  string
	// Search is a case-insensitive filename substring.
	Search string
	// Tags must all be present (AND semantics).
	Tags []string
	// SampleIDs restricts to an explicit id list (lasso selections).
	SampleIDs []string
	// Sources restricts to samples with annotations from these sources.
	Sources []string
	SortBy  string
	SortDir string
	Limit   int
	Offset  int
}

// SplitCount is one facet bucket for a split value.
type SplitCount struct {
	Split string `json:"split"`
	Count int64  `json:"count"`
}

// TagCount is one facet bucket for a tag value.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// Store tracks samples.
type Store interface {
	// InsertBatch bulk-inserts samples. Rows whose (dataset_id, sample_id)
	// already exist are left untouched.
	InsertBatch(ctx context.Context, samples []types.Sample) error

	// Get returns one sample or a NotFound error.
	Get(ctx context.Context, datasetID, sampleID string) (types.Sample, error)

	// GetMany returns the samples with the given ids, in id order. Missing
	// ids are silently absent from the result.
	GetMany(ctx context.Context, datasetID string, ids []string) ([]types.Sample, error)

	// Search returns one page of samples plus the total match count.
	Search(ctx context.Context, opts SearchOptions) ([]types.Sample, int64, error)

	// ListAll returns every sample of the dataset ordered by id. Used by
	// background tasks that walk the whole dataset.
	ListAll(ctx context.Context, datasetID string) ([]types.Sample, error)

	// Count returns the number of samples in the dataset.
	Count(ctx context.Context, datasetID string) (int64, error)

	// MissingThumbnails returns up to limit samples with no cached
	// thumbnail, ordered by id.
	MissingThumbnails(ctx context.Context, datasetID string, limit int) ([]types.Sample, error)

	// SetThumbnail records the generated thumbnail path, filling in width
	// and height if they were unknown.
	SetThumbnail(ctx context.Context, datasetID, sampleID, path string, width, height int64) error

	// Splits returns per-split sample counts. NULL splits are reported
	// under "unassigned".
	Splits(ctx context.Context, datasetID string) ([]SplitCount, error)

	// TagFacets returns the distinct tag values with their sample counts,
	// most frequent first.
	TagFacets(ctx context.Context, datasetID string) ([]TagCount, error)

	// AddTag appends the tag to every listed sample that does not already
	// carry it. Returns the number of samples actually modified.
	AddTag(ctx context.Context, datasetID string, sampleIDs []string, tag string) (int64, error)

	// RemoveTag removes the tag from every listed sample that carries it.
	// Returns the number of samples actually modified.
	RemoveTag(ctx context.Context, datasetID string, sampleIDs []string, tag string) (int64, error)

	// SetTriageTag atomically replaces any prior triage tag (other than
	// triage:annotated) with the given one.
	SetTriageTag(ctx context.Context, datasetID, sampleID, tag string) error

	// RemoveTriageTags removes every triage:* tag from the sample,
	// triage:annotated included.
	RemoveTriageTags(ctx context.Context, datasetID, sampleID string) error
}
