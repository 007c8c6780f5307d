// Package sqlviewstore implements views.Store using an SQL database.
package sqlviewstore

import (
	"context"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sql/pool"
	"github.com/visionlens/visionlens/go/types"
	"github.com/visionlens/visionlens/go/views"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	insertView statement = iota
	listViews
	deleteView
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	insertView: `
		INSERT INTO
			SavedViews (view_id, dataset_id, name, filters, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6)
	`,
	listViews: `
		SELECT
			view_id, dataset_id, name, filters, created_at, updated_at
		FROM
			SavedViews
		WHERE
			dataset_id=$1
		ORDER BY
			created_at DESC, view_id
	`,
	deleteView: `
		DELETE
		FROM
			SavedViews
		WHERE
			view_id=$1
	`,
}

// ViewStore implements the views.Store interface using an SQL database.
type ViewStore struct {
	db pool.Pool
}

// New returns a new *ViewStore.
func New(db pool.Pool) *ViewStore {
	return &ViewStore{db: db}
}

// Create implements the views.Store interface.
func (s *ViewStore) Create(ctx context.Context, v types.SavedView) error {
	_, err := s.db.Exec(ctx, statements[insertView],
		v.ID, v.DatasetID, v.Name, []byte(v.Filters), v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "inserting view %s", v.ID))
	}
	return nil
}

// List implements the views.Store interface.
func (s *ViewStore) List(ctx context.Context, datasetID string) ([]types.SavedView, error) {
	rows, err := s.db.Query(ctx, statements[listViews], datasetID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []types.SavedView{}
	for rows.Next() {
		var v types.SavedView
		var filters []byte
		if err := rows.Scan(&v.ID, &v.DatasetID, &v.Name, &filters, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		v.Filters = filters
		rv = append(rv, v)
	}
	return rv, nil
}

// Delete implements the views.Store interface.
func (s *ViewStore) Delete(ctx context.Context, viewID string) error {
	res, err := s.db.Exec(ctx, statements[deleteView], viewID)
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "deleting view %s", viewID))
	}
	if res.RowsAffected() != 1 {
		return apperror.New(apperror.NotFound, "view %s not found", viewID)
	}
	return nil
}

// Confirm the interface is implemented.
var _ views.Store = (*ViewStore)(nil)
