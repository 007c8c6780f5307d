// Package sqldatasetstore implements datasets.Store using an SQL database.
package sqldatasetstore

import (
	"context"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgx/v4"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sql/pool"
	"github.com/visionlens/visionlens/go/sql/sqlutil"
	"github.com/visionlens/visionlens/go/types"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	insertDataset statement = iota
	getDataset
	datasetExists
	listDatasets
	addCounts
	refreshCategoryCount
	refreshPredictionCount
	listCategories
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	insertDataset: `
		INSERT INTO
			Datasets (dataset_id, name, annotation_path, image_dir, format,
				dataset_type, image_count, annotation_count, prediction_count,
				category_count, created_at, metadata)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
	getDataset: `
		SELECT
			dataset_id, name, annotation_path, image_dir, format, dataset_type,
			image_count, annotation_count, prediction_count, category_count,
			created_at, metadata
		FROM
			Datasets
		WHERE
			dataset_id=$1
	`,
	datasetExists: `
		SELECT
			COUNT(*)
		FROM
			Datasets
		WHERE
			dataset_id=$1
	`,
	listDatasets: `
		SELECT
			dataset_id, name, annotation_path, image_dir, format, dataset_type,
			image_count, annotation_count, prediction_count, category_count,
			created_at, metadata
		FROM
			Datasets
		ORDER BY
			created_at DESC, dataset_id
	`,
	addCounts: `
		UPDATE
			Datasets
		SET
			image_count = image_count + $2,
			annotation_count = annotation_count + $3
		WHERE
			dataset_id=$1
	`,
	refreshCategoryCount: `
		UPDATE
			Datasets
		SET
			category_count = (SELECT COUNT(*) FROM Categories WHERE dataset_id=$1)
		WHERE
			dataset_id=$1
	`,
	refreshPredictionCount: `
		UPDATE
			Datasets
		SET
			prediction_count = (SELECT COUNT(*) FROM Annotations WHERE dataset_id=$1 AND source != 'ground_truth')
		WHERE
			dataset_id=$1
	`,
	listCategories: `
		SELECT
			category_id, name, supercategory
		FROM
			Categories
		WHERE
			dataset_id=$1
		ORDER BY
			category_id
	`,
}

// Tables the cascade delete clears, in child-first order.
var cascadeTables = []string{
	"AnnotationTriage", "SavedViews", "Embeddings", "Annotations",
	"Categories", "Samples",
}

// DatasetStore implements the datasets.Store interface using an SQL
// database.
type DatasetStore struct {
	db pool.Pool
}

// New returns a new *DatasetStore.
func New(db pool.Pool) *DatasetStore {
	return &DatasetStore{db: db}
}

// Create implements the datasets.Store interface.
func (s *DatasetStore) Create(ctx context.Context, d types.Dataset) error {
	exists, err := s.Exists(ctx, d.ID)
	if err != nil {
		return skerr.Wrap(err)
	}
	if exists {
		return apperror.New(apperror.Conflict, "dataset %s already exists", d.ID)
	}
	var metadata interface{}
	if len(d.Metadata) > 0 {
		metadata = []byte(d.Metadata)
	}
	_, err = s.db.Exec(ctx, statements[insertDataset],
		d.ID, d.Name, d.AnnotationPath, d.ImageDir, string(d.Format),
		string(d.Type), d.ImageCount, d.AnnotationCount, d.PredictionCount,
		d.CategoryCount, d.CreatedAt, metadata)
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "inserting dataset %s", d.ID))
	}
	return nil
}

// Get implements the datasets.Store interface.
func (s *DatasetStore) Get(ctx context.Context, id string) (types.Dataset, error) {
	row := s.db.QueryRow(ctx, statements[getDataset], id)
	d, err := scanDataset(row)
	if err == pgx.ErrNoRows {
		return types.Dataset{}, apperror.New(apperror.NotFound, "dataset %s not found", id)
	}
	if err != nil {
		return types.Dataset{}, apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "loading dataset %s", id))
	}
	return d, nil
}

// Exists implements the datasets.Store interface.
func (s *DatasetStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := s.db.QueryRow(ctx, statements[datasetExists], id).Scan(&count); err != nil {
		return false, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	return count > 0, nil
}

// List implements the datasets.Store interface.
func (s *DatasetStore) List(ctx context.Context) ([]types.Dataset, error) {
	rows, err := s.db.Query(ctx, statements[listDatasets])
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []types.Dataset{}
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		rv = append(rv, d)
	}
	return rv, nil
}

// Delete implements the datasets.Store interface.
func (s *DatasetStore) Delete(ctx context.Context, id string) error {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return skerr.Wrap(err)
	}
	if !exists {
		return apperror.New(apperror.NotFound, "dataset %s not found", id)
	}
	err = crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, table := range cascadeTables {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE dataset_id=$1`, id); err != nil {
				return err // Don't wrap - crdbpgx might retry
			}
		}
		_, err := tx.Exec(ctx, `DELETE FROM Datasets WHERE dataset_id=$1`, id)
		return err // Don't wrap - crdbpgx might retry
	})
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "deleting dataset %s", id))
	}
	return nil
}

// AddCounts implements the datasets.Store interface.
func (s *DatasetStore) AddCounts(ctx context.Context, id string, images, annotations int64) error {
	tag, err := s.db.Exec(ctx, statements[addCounts], id, images, annotations)
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	if tag.RowsAffected() != 1 {
		return apperror.New(apperror.NotFound, "dataset %s not found", id)
	}
	return nil
}

// RefreshDerivedCounts implements the datasets.Store interface.
func (s *DatasetStore) RefreshDerivedCounts(ctx context.Context, id string) error {
	err := crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, statements[refreshCategoryCount], id); err != nil {
			return err // Don't wrap - crdbpgx might retry
		}
		_, err := tx.Exec(ctx, statements[refreshPredictionCount], id)
		return err // Don't wrap - crdbpgx might retry
	})
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "refreshing counts for %s", id))
	}
	return nil
}

// InsertCategories implements the datasets.Store interface.
func (s *DatasetStore) InsertCategories(ctx context.Context, cats []types.Category) error {
	if len(cats) == 0 {
		return nil
	}
	statement := `INSERT INTO Categories (dataset_id, category_id, name, supercategory) VALUES `
	statement += sqlutil.ValuesPlaceholders(4, len(cats))
	statement += ` ON CONFLICT (dataset_id, category_id) DO NOTHING`
	args := make([]interface{}, 0, len(cats)*4)
	for _, c := range cats {
		var super interface{}
		if c.Supercategory != "" {
			super = c.Supercategory
		}
		args = append(args, c.DatasetID, c.ID, c.Name, super)
	}
	if _, err := s.db.Exec(ctx, statement, args...); err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "inserting %d categories", len(cats)))
	}
	return nil
}

// ListCategories implements the datasets.Store interface.
func (s *DatasetStore) ListCategories(ctx context.Context, id string) ([]types.Category, error) {
	rows, err := s.db.Query(ctx, statements[listCategories], id)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []types.Category{}
	for rows.Next() {
		c := types.Category{DatasetID: id}
		var super *string
		if err := rows.Scan(&c.ID, &c.Name, &super); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		if super != nil {
			c.Supercategory = *super
		}
		rv = append(rv, c)
	}
	return rv, nil
}

// scanDataset reads one dataset row from either a pgx.Row or pgx.Rows.
func scanDataset(row pgx.Row) (types.Dataset, error) {
	var d types.Dataset
	var format, dsType string
	var metadata []byte
	if err := row.Scan(&d.ID, &d.Name, &d.AnnotationPath, &d.ImageDir, &format,
		&dsType, &d.ImageCount, &d.AnnotationCount, &d.PredictionCount,
		&d.CategoryCount, &d.CreatedAt, &metadata); err != nil {
		return types.Dataset{}, err
	}
	d.Format = types.Format(format)
	d.Type = types.DatasetType(dsType)
	d.Metadata = metadata
	return d, nil
}

// Confirm the interface is implemented.
var _ datasets.Store = (*DatasetStore)(nil)
