// Package sqlembeddingstore implements embeddings.Store using an SQL
// database.
package sqlembeddingstore

import (
	"context"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sql/pool"
	"github.com/visionlens/visionlens/go/sql/sqlutil"
	"github.com/visionlens/visionlens/go/types"
)

// coordinateBatchSize bounds how many UPDATEs ride in one batch round-trip.
const coordinateBatchSize = 500

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	deleteForDataset statement = iota
	listVectors
	setCoordinate
	listCoordinates
	getStatus
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	deleteForDataset: `
		DELETE
		FROM
			Embeddings
		WHERE
			dataset_id=$1
	`,
	listVectors: `
		SELECT
			sample_id, model_name, vector, x, y
		FROM
			Embeddings
		WHERE
			dataset_id=$1
		ORDER BY
			sample_id
	`,
	setCoordinate: `
		UPDATE
			Embeddings
		SET
			x=$3, y=$4
		WHERE
			dataset_id=$1 AND sample_id=$2
	`,
	// One representative label per source kind keeps the scatter payload
	// small even for samples with dozens of boxes.
	listCoordinates: `
		SELECT
			e.sample_id, e.x, e.y, s.file_name, s.thumbnail_path,
			MIN(gt.category_name), MIN(pred.category_name)
		FROM
			Embeddings AS e
		JOIN
			Samples AS s ON e.sample_id = s.sample_id AND e.dataset_id = s.dataset_id
		LEFT JOIN
			Annotations AS gt ON gt.sample_id = s.sample_id AND gt.dataset_id = s.dataset_id
				AND gt.source = 'ground_truth'
		LEFT JOIN
			Annotations AS pred ON pred.sample_id = s.sample_id AND pred.dataset_id = s.dataset_id
				AND pred.source != 'ground_truth'
		WHERE
			e.dataset_id=$1 AND e.x IS NOT NULL
		GROUP BY
			e.sample_id, e.x, e.y, s.file_name, s.thumbnail_path
		ORDER BY
			e.sample_id
	`,
	getStatus: `
		SELECT
			COUNT(*), COALESCE(MAX(model_name), ''), COUNT(x)
		FROM
			Embeddings
		WHERE
			dataset_id=$1
	`,
}

// EmbeddingStore implements the embeddings.Store interface using an SQL
// database.
type EmbeddingStore struct {
	db pool.Pool
}

// New returns a new *EmbeddingStore.
func New(db pool.Pool) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

// InsertBatch implements the embeddings.Store interface.
func (s *EmbeddingStore) InsertBatch(ctx context.Context, embs []types.Embedding) error {
	if len(embs) == 0 {
		return nil
	}
	statement := `INSERT INTO Embeddings (dataset_id, sample_id, model_name, vector, x, y) VALUES `
	statement += sqlutil.ValuesPlaceholders(6, len(embs))
	statement += ` ON CONFLICT (dataset_id, sample_id) DO NOTHING`
	args := make([]interface{}, 0, len(embs)*6)
	for _, e := range embs {
		vec, err := float4Array(e.Vector)
		if err != nil {
			return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "encoding vector for sample %s", e.SampleID))
		}
		args = append(args, e.DatasetID, e.SampleID, e.ModelName, vec, e.X, e.Y)
	}
	if _, err := s.db.Exec(ctx, statement, args...); err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "inserting %d embeddings", len(embs)))
	}
	return nil
}

// DeleteForDataset implements the embeddings.Store interface.
func (s *EmbeddingStore) DeleteForDataset(ctx context.Context, datasetID string) (int64, error) {
	res, err := s.db.Exec(ctx, statements[deleteForDataset], datasetID)
	if err != nil {
		return 0, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	return res.RowsAffected(), nil
}

// ListVectors implements the embeddings.Store interface.
func (s *EmbeddingStore) ListVectors(ctx context.Context, datasetID string) ([]types.Embedding, error) {
	rows, err := s.db.Query(ctx, statements[listVectors], datasetID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []types.Embedding{}
	for rows.Next() {
		e := types.Embedding{DatasetID: datasetID}
		var vec pgtype.Float4Array
		if err := rows.Scan(&e.SampleID, &e.ModelName, &vec, &e.X, &e.Y); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		if err := vec.AssignTo(&e.Vector); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "decoding vector for sample %s", e.SampleID))
		}
		rv = append(rv, e)
	}
	return rv, nil
}

// SetCoordinates implements the embeddings.Store interface. Updates ride
// in batched round-trips of coordinateBatchSize.
func (s *EmbeddingStore) SetCoordinates(ctx context.Context, datasetID string, coords []embeddings.Coordinate) error {
	for start := 0; start < len(coords); start += coordinateBatchSize {
		end := start + coordinateBatchSize
		if end > len(coords) {
			end = len(coords)
		}
		batch := &pgx.Batch{}
		for _, c := range coords[start:end] {
			batch.Queue(statements[setCoordinate], datasetID, c.SampleID, c.X, c.Y)
		}
		results := s.db.SendBatch(ctx, batch)
		for range coords[start:end] {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "writing coordinates"))
			}
		}
		if err := results.Close(); err != nil {
			return apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
	}
	return nil
}

// Coordinates implements the embeddings.Store interface.
func (s *EmbeddingStore) Coordinates(ctx context.Context, datasetID string) ([]embeddings.Point, error) {
	rows, err := s.db.Query(ctx, statements[listCoordinates], datasetID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []embeddings.Point{}
	for rows.Next() {
		var p embeddings.Point
		var thumbnail, gtLabel, predLabel *string
		if err := rows.Scan(&p.SampleID, &p.X, &p.Y, &p.FileName, &thumbnail, &gtLabel, &predLabel); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		if thumbnail != nil {
			p.ThumbnailPath = *thumbnail
		}
		if gtLabel != nil {
			p.GTLabel = *gtLabel
		}
		if predLabel != nil {
			p.PredLabel = *predLabel
		}
		rv = append(rv, p)
	}
	return rv, nil
}

// GetStatus implements the embeddings.Store interface.
func (s *EmbeddingStore) GetStatus(ctx context.Context, datasetID string) (embeddings.Status, error) {
	st := embeddings.Status{DatasetID: datasetID}
	var reduced int64
	if err := s.db.QueryRow(ctx, statements[getStatus], datasetID).Scan(&st.Count, &st.ModelName, &reduced); err != nil {
		return embeddings.Status{}, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	st.HasEmbeddings = st.Count > 0
	st.HasReduction = reduced > 0
	return st, nil
}

// float4Array converts a vector to its wire representation. Explicit
// pgtype conversion keeps the FLOAT4[] encoding independent of the
// driver's default mapping for float32 slices.
func float4Array(v []float32) (*pgtype.Float4Array, error) {
	arr := &pgtype.Float4Array{}
	if err := arr.Set(v); err != nil {
		return nil, skerr.Wrap(err)
	}
	return arr, nil
}

// Confirm the interface is implemented.
var _ embeddings.Store = (*EmbeddingStore)(nil)
