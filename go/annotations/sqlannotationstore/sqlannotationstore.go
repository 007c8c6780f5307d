// Package sqlannotationstore implements annotations.Store using an SQL
// database.
package sqlannotationstore

import (
	"context"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgx/v4"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sql/pool"
	"github.com/visionlens/visionlens/go/sql/sqlutil"
	"github.com/visionlens/visionlens/go/types"
)

// annotationColumns is the projection shared by every read statement.
const annotationColumns = `dataset_id, annotation_id, sample_id, category_name, bbox_x, bbox_y, bbox_w, bbox_h, area, is_crowd, source, confidence`

// annotationColumnsPrefixed disambiguates the columns in statements that
// join against Samples.
const annotationColumnsPrefixed = `a.dataset_id, a.annotation_id, a.sample_id, a.category_name, a.bbox_x, a.bbox_y, a.bbox_w, a.bbox_h, a.area, a.is_crowd, a.source, a.confidence`

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	getAnnotation statement = iota
	listBySample
	listBySampleFiltered
	listBySamples
	listBySamplesFiltered
	listBySource
	listBySourceBySplit
	updateAnnotation
	deleteSource
	listSources
	countsByCategory
	countsByCategoryBySplit
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	getAnnotation: `
		SELECT ` + annotationColumns + `
		FROM
			Annotations
		WHERE
			dataset_id=$1 AND annotation_id=$2
	`,
	listBySample: `
		SELECT ` + annotationColumns + `
		FROM
			Annotations
		WHERE
			dataset_id=$1 AND sample_id=$2
		ORDER BY
			annotation_id
	`,
	listBySampleFiltered: `
		SELECT ` + annotationColumns + `
		FROM
			Annotations
		WHERE
			dataset_id=$1 AND sample_id=$2 AND source = ANY($3)
		ORDER BY
			annotation_id
	`,
	listBySamples: `
		SELECT ` + annotationColumns + `
		FROM
			Annotations
		WHERE
			dataset_id=$1 AND sample_id = ANY($2)
		ORDER BY
			sample_id, annotation_id
	`,
	listBySamplesFiltered: `
		SELECT ` + annotationColumns + `
		FROM
			Annotations
		WHERE
			dataset_id=$1 AND sample_id = ANY($2) AND source = ANY($3)
		ORDER BY
			sample_id, annotation_id
	`,
	listBySource: `
		SELECT ` + annotationColumns + `
		FROM
			Annotations
		WHERE
			dataset_id=$1 AND source=$2
		ORDER BY
			sample_id, annotation_id
	`,
	listBySourceBySplit: `
		SELECT ` + annotationColumnsPrefixed + `
		FROM
			Annotations a
		JOIN
			Samples s
		ON
			s.dataset_id = a.dataset_id AND s.sample_id = a.sample_id
		WHERE
			a.dataset_id=$1 AND a.source=$2
			AND COALESCE(s.split, 'unassigned')=$3
		ORDER BY
			a.sample_id, a.annotation_id
	`,
	updateAnnotation: `
		UPDATE
			Annotations
		SET
			category_name=$3, bbox_x=$4, bbox_y=$5, bbox_w=$6, bbox_h=$7,
			area=$8, is_crowd=$9
		WHERE
			dataset_id=$1 AND annotation_id=$2 AND source='ground_truth'
	`,
	deleteSource: `
		DELETE FROM
			Annotations
		WHERE
			dataset_id=$1 AND source=$2
	`,
	listSources: `
		SELECT DISTINCT
			source
		FROM
			Annotations
		WHERE
			dataset_id=$1
		ORDER BY
			source
	`,
	countsByCategory: `
		SELECT
			category_name,
			COUNT(*) FILTER (WHERE source = 'ground_truth'),
			COUNT(*) FILTER (WHERE source != 'ground_truth')
		FROM
			Annotations
		WHERE
			dataset_id=$1
		GROUP BY
			category_name
		ORDER BY
			category_name
	`,
	countsByCategoryBySplit: `
		SELECT
			a.category_name,
			COUNT(*) FILTER (WHERE a.source = 'ground_truth'),
			COUNT(*) FILTER (WHERE a.source != 'ground_truth')
		FROM
			Annotations a
		JOIN
			Samples s
		ON
			s.dataset_id = a.dataset_id AND s.sample_id = a.sample_id
		WHERE
			a.dataset_id=$1 AND COALESCE(s.split, 'unassigned')=$2
		GROUP BY
			a.category_name
		ORDER BY
			a.category_name
	`,
}

// AnnotationStore implements the annotations.Store interface using an SQL
// database.
type AnnotationStore struct {
	db pool.Pool
}

// New returns a new *AnnotationStore.
func New(db pool.Pool) *AnnotationStore {
	return &AnnotationStore{db: db}
}

// InsertBatch implements the annotations.Store interface.
func (s *AnnotationStore) InsertBatch(ctx context.Context, anns []types.Annotation) error {
	if len(anns) == 0 {
		return nil
	}
	statement := `INSERT INTO Annotations (` + annotationColumns + `) VALUES `
	statement += sqlutil.ValuesPlaceholders(12, len(anns))
	statement += ` ON CONFLICT (dataset_id, annotation_id) DO NOTHING`
	args := make([]interface{}, 0, len(anns)*12)
	for _, a := range anns {
		args = append(args, a.DatasetID, a.ID, a.SampleID, a.CategoryName,
			a.BboxX, a.BboxY, a.BboxW, a.BboxH, a.Area, a.IsCrowd, a.Source, a.Confidence)
	}
	if _, err := s.db.Exec(ctx, statement, args...); err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "inserting %d annotations", len(anns)))
	}
	return nil
}

// Get implements the annotations.Store interface.
func (s *AnnotationStore) Get(ctx context.Context, datasetID, annotationID string) (types.Annotation, error) {
	row := s.db.QueryRow(ctx, statements[getAnnotation], datasetID, annotationID)
	a, err := scanAnnotation(row)
	if err == pgx.ErrNoRows {
		return types.Annotation{}, apperror.New(apperror.NotFound, "annotation %s not found", annotationID)
	}
	if err != nil {
		return types.Annotation{}, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	return a, nil
}

// ListBySample implements the annotations.Store interface.
func (s *AnnotationStore) ListBySample(ctx context.Context, datasetID, sampleID string, sources []string) ([]types.Annotation, error) {
	var rows pgx.Rows
	var err error
	if len(sources) == 0 {
		rows, err = s.db.Query(ctx, statements[listBySample], datasetID, sampleID)
	} else {
		rows, err = s.db.Query(ctx, statements[listBySampleFiltered], datasetID, sampleID, sources)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

// ListBySamples implements the annotations.Store interface.
func (s *AnnotationStore) ListBySamples(ctx context.Context, datasetID string, sampleIDs []string, sources []string) (map[string][]types.Annotation, error) {
	rv := map[string][]types.Annotation{}
	if len(sampleIDs) == 0 {
		return rv, nil
	}
	var rows pgx.Rows
	var err error
	if len(sources) == 0 {
		rows, err = s.db.Query(ctx, statements[listBySamples], datasetID, sampleIDs)
	} else {
		rows, err = s.db.Query(ctx, statements[listBySamplesFiltered], datasetID, sampleIDs, sources)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	anns, err := scanAnnotations(rows)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	for _, a := range anns {
		rv[a.SampleID] = append(rv[a.SampleID], a)
	}
	return rv, nil
}

// ListBySource implements the annotations.Store interface.
func (s *AnnotationStore) ListBySource(ctx context.Context, datasetID, source, split string) ([]types.Annotation, error) {
	var rows pgx.Rows
	var err error
	if split == "" {
		rows, err = s.db.Query(ctx, statements[listBySource], datasetID, source)
	} else {
		rows, err = s.db.Query(ctx, statements[listBySourceBySplit], datasetID, source, split)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

// Create implements the annotations.Store interface.
func (s *AnnotationStore) Create(ctx context.Context, a types.Annotation) error {
	err := crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO Annotations (`+annotationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'ground_truth', NULL)`,
			a.DatasetID, a.ID, a.SampleID, a.CategoryName,
			a.BboxX, a.BboxY, a.BboxW, a.BboxH, a.Area, a.IsCrowd)
		if err != nil {
			return err // Don't wrap - crdbpgx might retry
		}
		_, err = tx.Exec(ctx, `
UPDATE Datasets SET annotation_count = annotation_count + 1 WHERE dataset_id=$1`, a.DatasetID)
		return err // Don't wrap - crdbpgx might retry
	})
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "creating annotation %s", a.ID))
	}
	return nil
}

// Update implements the annotations.Store interface.
func (s *AnnotationStore) Update(ctx context.Context, a types.Annotation) error {
	res, err := s.db.Exec(ctx, statements[updateAnnotation],
		a.DatasetID, a.ID, a.CategoryName, a.BboxX, a.BboxY, a.BboxW, a.BboxH, a.Area, a.IsCrowd)
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "updating annotation %s", a.ID))
	}
	if res.RowsAffected() != 1 {
		return apperror.New(apperror.NotFound, "ground-truth annotation %s not found", a.ID)
	}
	return nil
}

// Delete implements the annotations.Store interface.
func (s *AnnotationStore) Delete(ctx context.Context, datasetID, annotationID string) error {
	deleted := false
	err := crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		deleted = false
		res, err := tx.Exec(ctx, `
DELETE FROM Annotations WHERE dataset_id=$1 AND annotation_id=$2 AND source='ground_truth'`,
			datasetID, annotationID)
		if err != nil {
			return err // Don't wrap - crdbpgx might retry
		}
		if res.RowsAffected() == 0 {
			return nil
		}
		deleted = true
		_, err = tx.Exec(ctx, `
UPDATE Datasets SET annotation_count = annotation_count - 1 WHERE dataset_id=$1`, datasetID)
		return err // Don't wrap - crdbpgx might retry
	})
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "deleting annotation %s", annotationID))
	}
	if !deleted {
		return apperror.New(apperror.NotFound, "ground-truth annotation %s not found", annotationID)
	}
	return nil
}

// DeleteSource implements the annotations.Store interface.
func (s *AnnotationStore) DeleteSource(ctx context.Context, datasetID, source string) (int64, error) {
	res, err := s.db.Exec(ctx, statements[deleteSource], datasetID, source)
	if err != nil {
		return 0, apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "deleting source %s", source))
	}
	return res.RowsAffected(), nil
}

// Sources implements the annotations.Store interface.
func (s *AnnotationStore) Sources(ctx context.Context, datasetID string) ([]string, error) {
	rows, err := s.db.Query(ctx, statements[listSources], datasetID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []string{}
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		rv = append(rv, source)
	}
	return rv, nil
}

// CountsByCategory implements the annotations.Store interface.
func (s *AnnotationStore) CountsByCategory(ctx context.Context, datasetID, split string) ([]annotations.CategoryCount, error) {
	var rows pgx.Rows
	var err error
	if split == "" {
		rows, err = s.db.Query(ctx, statements[countsByCategory], datasetID)
	} else {
		rows, err = s.db.Query(ctx, statements[countsByCategoryBySplit], datasetID, split)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []annotations.CategoryCount{}
	for rows.Next() {
		var cc annotations.CategoryCount
		if err := rows.Scan(&cc.Name, &cc.GroundTruth, &cc.Predictions); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		rv = append(rv, cc)
	}
	return rv, nil
}

// scanAnnotation reads one annotation row.
func scanAnnotation(row pgx.Row) (types.Annotation, error) {
	var a types.Annotation
	if err := row.Scan(&a.DatasetID, &a.ID, &a.SampleID, &a.CategoryName,
		&a.BboxX, &a.BboxY, &a.BboxW, &a.BboxH, &a.Area, &a.IsCrowd,
		&a.Source, &a.Confidence); err != nil {
		return types.Annotation{}, err
	}
	return a, nil
}

// scanAnnotations drains a row set of annotation rows.
func scanAnnotations(rows pgx.Rows) ([]types.Annotation, error) {
	rv := []types.Annotation{}
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		rv = append(rv, a)
	}
	return rv, nil
}

// Confirm the interface is implemented.
var _ annotations.Store = (*AnnotationStore)(nil)
