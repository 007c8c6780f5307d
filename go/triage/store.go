package triage

import (
	"context"

	"github.com/visionlens/visionlens/go/types"
)

// Store tracks manual per-annotation overrides. Writing and deleting keep
// the sample's triage:annotated tag in step: it is present exactly while
// at least one override exists for the sample.
type Store interface {
	// Set inserts or replaces the override for an annotation (write wins)
	// and ensures the sample carries triage:annotated.
	Set(ctx context.Context, o types.TriageOverride) error

	// Delete removes the override. Deleting an absent override is a no-op.
	// When the sample's last override goes away, so does triage:annotated.
	Delete(ctx context.Context, datasetID, sampleID, annotationID string) error

	// ListBySample returns the sample's overrides ordered by annotation id.
	ListBySample(ctx context.Context, datasetID, sampleID string) ([]types.TriageOverride, error)
}
