// Package views defines the storage API for saved filter views.
package views

import (
	"context"

	"github.com/visionlens/visionlens/go/types"
)

// Store tracks saved views. The filter blob is opaque to the server.
type Store interface {
	// Create inserts a new view.
	Create(ctx context.Context, v types.SavedView) error

	// List returns the dataset's views, newest first.
	List(ctx context.Context, datasetID string) ([]types.SavedView, error)

	// Delete removes a view. Deleting an absent view is a NotFound error.
	Delete(ctx context.Context, viewID string) error
}
