// Package sqltriagestore implements triage.Store using an SQL database.
package sqltriagestore

import (
	"context"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgx/v4"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sql/pool"
	"github.com/visionlens/visionlens/go/triage"
	"github.com/visionlens/visionlens/go/types"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	upsertOverride statement = iota
	ensureAnnotatedTag
	deleteOverride
	countForSample
	removeAnnotatedTag
	listBySample
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	upsertOverride: `
		INSERT INTO
			AnnotationTriage (dataset_id, annotation_id, sample_id, label, created_at)
		VALUES
			($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_id, annotation_id)
		DO UPDATE SET sample_id=$3, label=$4, created_at=$5
	`,
	ensureAnnotatedTag: `
		UPDATE
			Samples
		SET
			tags = array_append(tags, 'triage:annotated')
		WHERE
			dataset_id=$1 AND sample_id=$2 AND NOT tags @> ARRAY['triage:annotated']
	`,
	deleteOverride: `
		DELETE
		FROM
			AnnotationTriage
		WHERE
			dataset_id=$1 AND annotation_id=$2
	`,
	countForSample: `
		SELECT
			COUNT(*)
		FROM
			AnnotationTriage
		WHERE
			dataset_id=$1 AND sample_id=$2
	`,
	removeAnnotatedTag: `
		UPDATE
			Samples
		SET
			tags = array_remove(tags, 'triage:annotated')
		WHERE
			dataset_id=$1 AND sample_id=$2
	`,
	listBySample: `
		SELECT
			annotation_id, label, created_at
		FROM
			AnnotationTriage
		WHERE
			dataset_id=$1 AND sample_id=$2
		ORDER BY
			annotation_id
	`,
}

// TriageStore implements the triage.Store interface using an SQL database.
type TriageStore struct {
	db pool.Pool
}

// New returns a new *TriageStore.
func New(db pool.Pool) *TriageStore {
	return &TriageStore{db: db}
}

// Set implements the triage.Store interface.
func (s *TriageStore) Set(ctx context.Context, o types.TriageOverride) error {
	err := crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, statements[upsertOverride],
			o.DatasetID, o.AnnotationID, o.SampleID, string(o.Label), o.CreatedAt)
		if err != nil {
			return err // Don't wrap - crdbpgx might retry
		}
		_, err = tx.Exec(ctx, statements[ensureAnnotatedTag], o.DatasetID, o.SampleID)
		return err // Don't wrap - crdbpgx might retry
	})
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "setting override on %s", o.AnnotationID))
	}
	return nil
}

// Delete implements the triage.Store interface.
func (s *TriageStore) Delete(ctx context.Context, datasetID, sampleID, annotationID string) error {
	err := crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, statements[deleteOverride], datasetID, annotationID); err != nil {
			return err // Don't wrap - crdbpgx might retry
		}
		var remaining int
		if err := tx.QueryRow(ctx, statements[countForSample], datasetID, sampleID).Scan(&remaining); err != nil {
			return err // Don't wrap - crdbpgx might retry
		}
		if remaining > 0 {
			return nil
		}
		_, err := tx.Exec(ctx, statements[removeAnnotatedTag], datasetID, sampleID)
		return err // Don't wrap - crdbpgx might retry
	})
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "deleting override on %s", annotationID))
	}
	return nil
}

// ListBySample implements the triage.Store interface.
func (s *TriageStore) ListBySample(ctx context.Context, datasetID, sampleID string) ([]types.TriageOverride, error) {
	rows, err := s.db.Query(ctx, statements[listBySample], datasetID, sampleID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []types.TriageOverride{}
	for rows.Next() {
		o := types.TriageOverride{DatasetID: datasetID, SampleID: sampleID}
		var label string
		if err := rows.Scan(&o.AnnotationID, &label, &o.CreatedAt); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		o.Label = types.TriageLabel(label)
		rv = append(rv, o)
	}
	return rv, nil
}

// Confirm the interface is implemented.
var _ triage.Store = (*TriageStore)(nil)
