// Package sqlsamplestore implements samples.Store using an SQL database.
package sqlsamplestore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/filter"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sql/pool"
	"github.com/visionlens/visionlens/go/sql/sqlutil"
	"github.com/visionlens/visionlens/go/types"
)

// sampleColumns is the projection shared by every read statement.
const sampleColumns = `s.dataset_id, s.sample_id, s.file_name, s.width, s.height, s.split, s.image_dir, s.thumbnail_path, s.tags`

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	getSample statement = iota
	getManySamples
	listAllSamples
	countSamples
	missingThumbnails
	setThumbnail
	listSplits
	tagFacets
	addTag
	removeTag
	setTriageTag
	removeTriageTags
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	getSample: `
		SELECT ` + sampleColumns + `
		FROM
			Samples AS s
		WHERE
			s.dataset_id=$1 AND s.sample_id=$2
	`,
	getManySamples: `
		SELECT ` + sampleColumns + `
		FROM
			Samples AS s
		WHERE
			s.dataset_id=$1 AND s.sample_id = ANY($2)
		ORDER BY
			s.sample_id
	`,
	listAllSamples: `
		SELECT ` + sampleColumns + `
		FROM
			Samples AS s
		WHERE
			s.dataset_id=$1
		ORDER BY
			s.sample_id
	`,
	countSamples: `
		SELECT
			COUNT(*)
		FROM
			Samples
		WHERE
			dataset_id=$1
	`,
	missingThumbnails: `
		SELECT ` + sampleColumns + `
		FROM
			Samples AS s
		WHERE
			s.dataset_id=$1 AND s.thumbnail_path IS NULL
		ORDER BY
			s.sample_id
		LIMIT $2
	`,
	setThumbnail: `
		UPDATE
			Samples
		SET
			thumbnail_path=$3,
			width = CASE WHEN width = 0 THEN $4 ELSE width END,
			height = CASE WHEN height = 0 THEN $5 ELSE height END
		WHERE
			dataset_id=$1 AND sample_id=$2
	`,
	listSplits: `
		SELECT
			COALESCE(split, 'unassigned'), COUNT(*)
		FROM
			Samples
		WHERE
			dataset_id=$1
		GROUP BY
			1
		ORDER BY
			1
	`,
	tagFacets: `
		SELECT
			tag, COUNT(*)
		FROM
			Samples, unnest(tags) AS tag
		WHERE
			dataset_id=$1
		GROUP BY
			tag
		ORDER BY
			COUNT(*) DESC, tag
	`,
	addTag: `
		UPDATE
			Samples
		SET
			tags = array_append(tags, $3)
		WHERE
			dataset_id=$1 AND sample_id = ANY($2) AND NOT tags @> ARRAY[$3]
	`,
	removeTag: `
		UPDATE
			Samples
		SET
			tags = array_remove(tags, $3)
		WHERE
			dataset_id=$1 AND sample_id = ANY($2) AND tags @> ARRAY[$3]
	`,
	// Drops any prior triage tag except triage:annotated, then appends the
	// new one. One statement so concurrent writers cannot interleave.
	setTriageTag: `
		UPDATE
			Samples
		SET
			tags = array_append(
				ARRAY(SELECT t FROM unnest(tags) WITH ORDINALITY AS u(t, ord)
					WHERE (t NOT LIKE 'triage:%' OR t = 'triage:annotated') AND t != $3
					ORDER BY ord),
				$3)
		WHERE
			dataset_id=$1 AND sample_id=$2
	`,
	removeTriageTags: `
		UPDATE
			Samples
		SET
			tags = ARRAY(SELECT t FROM unnest(tags) WITH ORDINALITY AS u(t, ord)
				WHERE t NOT LIKE 'triage:%'
				ORDER BY ord)
		WHERE
			dataset_id=$1 AND sample_id=$2
	`,
}

// SampleStore implements the samples.Store interface using an SQL
// database.
type SampleStore struct {
	db pool.Pool
}

// New returns a new *SampleStore.
func New(db pool.Pool) *SampleStore {
	return &SampleStore{db: db}
}

// InsertBatch implements the samples.Store interface.
func (s *SampleStore) InsertBatch(ctx context.Context, batch []types.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	statement := `INSERT INTO Samples (dataset_id, sample_id, file_name, width, height, split, image_dir, thumbnail_path, tags) VALUES `
	statement += sqlutil.ValuesPlaceholders(9, len(batch))
	statement += ` ON CONFLICT (dataset_id, sample_id) DO NOTHING`
	args := make([]interface{}, 0, len(batch)*9)
	for _, sm := range batch {
		tags := sm.Tags
		if tags == nil {
			tags = []string{}
		}
		args = append(args, sm.DatasetID, sm.ID, sm.FileName, sm.Width, sm.Height,
			nullable(sm.Split), nullable(sm.ImageDir), nullable(sm.ThumbnailPath), tags)
	}
	if _, err := s.db.Exec(ctx, statement, args...); err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "inserting %d samples", len(batch)))
	}
	return nil
}

// Get implements the samples.Store interface.
func (s *SampleStore) Get(ctx context.Context, datasetID, sampleID string) (types.Sample, error) {
	row := s.db.QueryRow(ctx, statements[getSample], datasetID, sampleID)
	sm, err := scanSample(row)
	if err == pgx.ErrNoRows {
		return types.Sample{}, apperror.New(apperror.NotFound, "sample %s not found", sampleID)
	}
	if err != nil {
		return types.Sample{}, apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "loading sample %s", sampleID))
	}
	return sm, nil
}

// GetMany implements the samples.Store interface.
func (s *SampleStore) GetMany(ctx context.Context, datasetID string, ids []string) ([]types.Sample, error) {
	if len(ids) == 0 {
		return []types.Sample{}, nil
	}
	rows, err := s.db.Query(ctx, statements[getManySamples], datasetID, ids)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	return scanSamples(rows)
}

// Search implements the samples.Store interface.
func (s *SampleStore) Search(ctx context.Context, opts samples.SearchOptions) ([]types.Sample, int64, error) {
	clauses, err := filter.New(opts.DatasetID).
		Split(opts.Split).
		Category(opts.Category).
		Search(opts.Search).
		Tags(opts.Tags).
		SampleIDs(opts.SampleIDs).
		Sources(opts.Sources).
		Build(opts.SortBy, opts.SortDir)
	if err != nil {
		return nil, 0, skerr.Wrap(err)
	}

	projection := "SELECT " + sampleColumns
	countProjection := "SELECT COUNT(*)"
	if clauses.Distinct {
		projection = "SELECT DISTINCT " + sampleColumns
		countProjection = "SELECT COUNT(DISTINCT s.sample_id)"
	}
	from := " FROM Samples AS s " + clauses.Join + " WHERE " + clauses.Where

	var total int64
	if err := s.db.QueryRow(ctx, countProjection+from, clauses.Args...).Scan(&total); err != nil {
		return nil, 0, apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "counting samples"))
	}

	dataStatement := fmt.Sprintf("%s%s %s LIMIT $%d OFFSET $%d",
		projection, from, clauses.Order, len(clauses.Args)+1, len(clauses.Args)+2)
	args := append(clauses.Args, opts.Limit, opts.Offset)
	rows, err := s.db.Query(ctx, dataStatement, args...)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "searching samples"))
	}
	defer rows.Close()
	page, err := scanSamples(rows)
	if err != nil {
		return nil, 0, skerr.Wrap(err)
	}
	return page, total, nil
}

// ListAll implements the samples.Store interface.
func (s *SampleStore) ListAll(ctx context.Context, datasetID string) ([]types.Sample, error) {
	rows, err := s.db.Query(ctx, statements[listAllSamples], datasetID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	return scanSamples(rows)
}

// Count implements the samples.Store interface.
func (s *SampleStore) Count(ctx context.Context, datasetID string) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, statements[countSamples], datasetID).Scan(&count); err != nil {
		return 0, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	return count, nil
}

// MissingThumbnails implements the samples.Store interface.
func (s *SampleStore) MissingThumbnails(ctx context.Context, datasetID string, limit int) ([]types.Sample, error) {
	rows, err := s.db.Query(ctx, statements[missingThumbnails], datasetID, limit)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	return scanSamples(rows)
}

// SetThumbnail implements the samples.Store interface.
func (s *SampleStore) SetThumbnail(ctx context.Context, datasetID, sampleID, path string, width, height int64) error {
	tag, err := s.db.Exec(ctx, statements[setThumbnail], datasetID, sampleID, path, width, height)
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	if tag.RowsAffected() != 1 {
		return apperror.New(apperror.NotFound, "sample %s not found", sampleID)
	}
	return nil
}

// Splits implements the samples.Store interface.
func (s *SampleStore) Splits(ctx context.Context, datasetID string) ([]samples.SplitCount, error) {
	rows, err := s.db.Query(ctx, statements[listSplits], datasetID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []samples.SplitCount{}
	for rows.Next() {
		var sc samples.SplitCount
		if err := rows.Scan(&sc.Split, &sc.Count); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		rv = append(rv, sc)
	}
	return rv, nil
}

// TagFacets implements the samples.Store interface.
func (s *SampleStore) TagFacets(ctx context.Context, datasetID string) ([]samples.TagCount, error) {
	rows, err := s.db.Query(ctx, statements[tagFacets], datasetID)
	if err != nil {
		return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	defer rows.Close()
	rv := []samples.TagCount{}
	for rows.Next() {
		var tc samples.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		rv = append(rv, tc)
	}
	return rv, nil
}

// AddTag implements the samples.Store interface.
func (s *SampleStore) AddTag(ctx context.Context, datasetID string, sampleIDs []string, tag string) (int64, error) {
	if len(sampleIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.Exec(ctx, statements[addTag], datasetID, sampleIDs, tag)
	if err != nil {
		return 0, apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "tagging %d samples", len(sampleIDs)))
	}
	return res.RowsAffected(), nil
}

// RemoveTag implements the samples.Store interface.
func (s *SampleStore) RemoveTag(ctx context.Context, datasetID string, sampleIDs []string, tag string) (int64, error) {
	if len(sampleIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.Exec(ctx, statements[removeTag], datasetID, sampleIDs, tag)
	if err != nil {
		return 0, apperror.Wrap(apperror.StoreError, skerr.Wrapf(err, "untagging %d samples", len(sampleIDs)))
	}
	return res.RowsAffected(), nil
}

// SetTriageTag implements the samples.Store interface.
func (s *SampleStore) SetTriageTag(ctx context.Context, datasetID, sampleID, tag string) error {
	if tag == types.TriageTagAnnotated {
		// triage:annotated coexists with the judgement tags, so a plain
		// deduplicating append is enough.
		if _, err := s.db.Exec(ctx, statements[addTag], datasetID, []string{sampleID}, tag); err != nil {
			return apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		return nil
	}
	res, err := s.db.Exec(ctx, statements[setTriageTag], datasetID, sampleID, tag)
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	if res.RowsAffected() != 1 {
		return apperror.New(apperror.NotFound, "sample %s not found", sampleID)
	}
	return nil
}

// RemoveTriageTags implements the samples.Store interface.
func (s *SampleStore) RemoveTriageTags(ctx context.Context, datasetID, sampleID string) error {
	res, err := s.db.Exec(ctx, statements[removeTriageTags], datasetID, sampleID)
	if err != nil {
		return apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
	}
	if res.RowsAffected() != 1 {
		return apperror.New(apperror.NotFound, "sample %s not found", sampleID)
	}
	return nil
}

// nullable maps "" to NULL for optional string columns.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanSample reads one sample row.
func scanSample(row pgx.Row) (types.Sample, error) {
	var sm types.Sample
	var split, imageDir, thumbnail *string
	if err := row.Scan(&sm.DatasetID, &sm.ID, &sm.FileName, &sm.Width, &sm.Height,
		&split, &imageDir, &thumbnail, &sm.Tags); err != nil {
		return types.Sample{}, err
	}
	if split != nil {
		sm.Split = *split
	}
	if imageDir != nil {
		sm.ImageDir = *imageDir
	}
	if thumbnail != nil {
		sm.ThumbnailPath = *thumbnail
	}
	if sm.Tags == nil {
		sm.Tags = []string{}
	}
	return sm, nil
}

// scanSamples drains a row set of sample rows.
func scanSamples(rows pgx.Rows) ([]types.Sample, error) {
	rv := []types.Sample{}
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, apperror.Wrap(apperror.StoreError, skerr.Wrap(err))
		}
		rv = append(rv, sm)
	}
	return rv, nil
}

// Confirm the interface is implemented.
var _ samples.Store = (*SampleStore)(nil)
