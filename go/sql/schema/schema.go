// Package schema defines the column-store tables. The row structs document
// every column with its SQL type; the Schema constant is the DDL actually
// executed. Keep the two in sync when adding columns.
package schema

import (
	"context"
	"time"

	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/sql/pool"
)

// DatasetRow is one ingested corpus. The counters are derived from the
// Samples/Annotations tables but stored here for O(1) reads; every mutation
// keeps them consistent inside the same transaction.
type DatasetRow struct {
	// DatasetID is an opaque identifier, generated at ingest unless the
	// caller supplies one to accumulate splits.
	DatasetID string `sql:"dataset_id STRING PRIMARY KEY"`
	// Name is the user-visible dataset name.
	Name string `sql:"name STRING NOT NULL"`
	// AnnotationPath is the source annotation file or directory.
	AnnotationPath string `sql:"annotation_path STRING NOT NULL DEFAULT ''"`
	// ImageDir is the default image base path. Multi-split datasets also
	// carry a per-sample image_dir.
	ImageDir string `sql:"image_dir STRING NOT NULL DEFAULT ''"`
	// Format is the ingestion format tag: coco | classification_jsonl.
	Format string `sql:"format STRING NOT NULL"`
	// DatasetType is detection | classification.
	DatasetType string `sql:"dataset_type STRING NOT NULL DEFAULT 'detection'"`
	// ImageCount is the number of Samples rows for this dataset.
	ImageCount int64 `sql:"image_count INT8 NOT NULL DEFAULT 0"`
	// AnnotationCount counts annotations with source = 'ground_truth'.
	AnnotationCount int64 `sql:"annotation_count INT8 NOT NULL DEFAULT 0"`
	// PredictionCount counts annotations with source != 'ground_truth'.
	PredictionCount int64 `sql:"prediction_count INT8 NOT NULL DEFAULT 0"`
	// CategoryCount is the number of distinct category names.
	CategoryCount int64 `sql:"category_count INT8 NOT NULL DEFAULT 0"`
	// CreatedAt is when the first split of the dataset was ingested.
	CreatedAt time.Time `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
	// Metadata is a free-form JSON blob supplied at ingest.
	Metadata []byte `sql:"metadata JSONB"`
}

// SampleRow is one image of a dataset.
type SampleRow struct {
	DatasetID string `sql:"dataset_id STRING"`
	SampleID  string `sql:"sample_id STRING"`
	FileName  string `sql:"file_name STRING NOT NULL"`
	// Width and Height are 0 when the source annotation file omitted them;
	// the thumbnail pipeline fills them in lazily.
	Width  int64 `sql:"width INT8 NOT NULL DEFAULT 0"`
	Height int64 `sql:"height INT8 NOT NULL DEFAULT 0"`
	// Split is train/val/test, or NULL for unassigned.
	Split *string `sql:"split STRING"`
	// ImageDir overrides the dataset-level image dir. Set per split.
	ImageDir *string `sql:"image_dir STRING"`
	// ThumbnailPath caches the generated medium thumbnail, if any.
	ThumbnailPath *string `sql:"thumbnail_path STRING"`
	// Tags is an insertion-ordered list with set semantics; triage tags use
	// the triage: prefix.
	Tags []string `sql:"tags STRING[] NOT NULL DEFAULT ARRAY[]::STRING[]"`

	primaryKey struct{} `sql:"PRIMARY KEY (dataset_id, sample_id)"`
}

// AnnotationRow is one bounding box or classification label. Ground truth
// and prediction runs share the table, distinguished by Source.
type AnnotationRow struct {
	DatasetID    string `sql:"dataset_id STRING"`
	AnnotationID string `sql:"annotation_id STRING"`
	SampleID     string `sql:"sample_id STRING NOT NULL"`
	// CategoryName is the join key used everywhere; the numeric source
	// category id only lives in Categories.
	CategoryName string  `sql:"category_name STRING NOT NULL"`
	BboxX        float64 `sql:"bbox_x FLOAT8 NOT NULL DEFAULT 0"`
	BboxY        float64 `sql:"bbox_y FLOAT8 NOT NULL DEFAULT 0"`
	BboxW        float64 `sql:"bbox_w FLOAT8 NOT NULL DEFAULT 0"`
	BboxH        float64 `sql:"bbox_h FLOAT8 NOT NULL DEFAULT 0"`
	// Area is always bbox_w * bbox_h.
	Area    float64 `sql:"area FLOAT8 NOT NULL DEFAULT 0"`
	IsCrowd bool    `sql:"is_crowd BOOL NOT NULL DEFAULT false"`
	// Source is 'ground_truth' or a prediction run name.
	Source string `sql:"source STRING NOT NULL DEFAULT 'ground_truth'"`
	// Confidence is NULL for ground truth.
	Confidence *float64 `sql:"confidence FLOAT8"`

	primaryKey    struct{} `sql:"PRIMARY KEY (dataset_id, annotation_id)"`
	sampleIndex   struct{} `sql:"INDEX annotations_by_sample (dataset_id, sample_id)"`
	sourceIndex   struct{} `sql:"INDEX annotations_by_source (dataset_id, source)"`
	categoryIndex struct{} `sql:"INDEX annotations_by_category (dataset_id, category_name)"`
}

// CategoryRow retains the source format's integer id for round-tripping
// prediction imports.
type CategoryRow struct {
	DatasetID     string  `sql:"dataset_id STRING"`
	CategoryID    int64   `sql:"category_id INT8"`
	Name          string  `sql:"name STRING NOT NULL"`
	Supercategory *string `sql:"supercategory STRING"`

	primaryKey struct{} `sql:"PRIMARY KEY (dataset_id, category_id)"`
}

// EmbeddingRow holds one vector per sample plus the optional 2-D
// projection. X and Y are both NULL until the reduce task runs.
type EmbeddingRow struct {
	DatasetID string    `sql:"dataset_id STRING"`
	SampleID  string    `sql:"sample_id STRING"`
	ModelName string    `sql:"model_name STRING NOT NULL"`
	Vector    []float32 `sql:"vector FLOAT4[] NOT NULL"`
	X         *float64  `sql:"x FLOAT8"`
	Y         *float64  `sql:"y FLOAT8"`

	primaryKey struct{} `sql:"PRIMARY KEY (dataset_id, sample_id)"`
}

// SavedViewRow stores a named filter state as an opaque blob.
type SavedViewRow struct {
	ViewID    string    `sql:"view_id STRING PRIMARY KEY"`
	DatasetID string    `sql:"dataset_id STRING NOT NULL"`
	Name      string    `sql:"name STRING NOT NULL"`
	Filters   []byte    `sql:"filters JSONB NOT NULL"`
	CreatedAt time.Time `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
	UpdatedAt time.Time `sql:"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()"`

	datasetIndex struct{} `sql:"INDEX saved_views_by_dataset (dataset_id)"`
}

// AnnotationTriageRow is a manual override of the auto-computed triage
// label for one annotation.
type AnnotationTriageRow struct {
	DatasetID    string    `sql:"dataset_id STRING"`
	AnnotationID string    `sql:"annotation_id STRING"`
	SampleID     string    `sql:"sample_id STRING NOT NULL"`
	Label        string    `sql:"label STRING NOT NULL"`
	CreatedAt    time.Time `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`

	primaryKey  struct{} `sql:"PRIMARY KEY (dataset_id, annotation_id)"`
	sampleIndex struct{} `sql:"INDEX annotation_triage_by_sample (dataset_id, sample_id)"`
}

// Tables collects all table row types, mostly to make test data builders
// straightforward.
type Tables struct {
	Datasets         []DatasetRow
	Samples          []SampleRow
	Annotations      []AnnotationRow
	Categories       []CategoryRow
	Embeddings       []EmbeddingRow
	SavedViews       []SavedViewRow
	AnnotationTriage []AnnotationTriageRow
}

// Column lists in table order. Parsers emit batches in exactly this order
// so bulk inserts stream without projection.
var (
	SampleColumns = []string{
		"dataset_id", "sample_id", "file_name", "width", "height",
		"split", "image_dir", "thumbnail_path", "tags",
	}
	AnnotationColumns = []string{
		"dataset_id", "annotation_id", "sample_id", "category_name",
		"bbox_x", "bbox_y", "bbox_w", "bbox_h", "area", "is_crowd",
		"source", "confidence",
	}
	CategoryColumns = []string{
		"dataset_id", "category_id", "name", "supercategory",
	}
)

// Schema is the DDL for a fresh database. Every statement is idempotent so
// it is safe to run at each startup.
const Schema = `
CREATE TABLE IF NOT EXISTS Datasets (
  dataset_id STRING PRIMARY KEY,
  name STRING NOT NULL,
  annotation_path STRING NOT NULL DEFAULT '',
  image_dir STRING NOT NULL DEFAULT '',
  format STRING NOT NULL,
  dataset_type STRING NOT NULL DEFAULT 'detection',
  image_count INT8 NOT NULL DEFAULT 0,
  annotation_count INT8 NOT NULL DEFAULT 0,
  prediction_count INT8 NOT NULL DEFAULT 0,
  category_count INT8 NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  metadata JSONB
);
CREATE TABLE IF NOT EXISTS Samples (
  dataset_id STRING,
  sample_id STRING,
  file_name STRING NOT NULL,
  width INT8 NOT NULL DEFAULT 0,
  height INT8 NOT NULL DEFAULT 0,
  split STRING,
  image_dir STRING,
  thumbnail_path STRING,
  tags STRING[] NOT NULL DEFAULT ARRAY[]::STRING[],
  PRIMARY KEY (dataset_id, sample_id)
);
CREATE TABLE IF NOT EXISTS Annotations (
  dataset_id STRING,
  annotation_id STRING,
  sample_id STRING NOT NULL,
  category_name STRING NOT NULL,
  bbox_x FLOAT8 NOT NULL DEFAULT 0,
  bbox_y FLOAT8 NOT NULL DEFAULT 0,
  bbox_w FLOAT8 NOT NULL DEFAULT 0,
  bbox_h FLOAT8 NOT NULL DEFAULT 0,
  area FLOAT8 NOT NULL DEFAULT 0,
  is_crowd BOOL NOT NULL DEFAULT false,
  source STRING NOT NULL DEFAULT 'ground_truth',
  confidence FLOAT8,
  PRIMARY KEY (dataset_id, annotation_id),
  INDEX annotations_by_sample (dataset_id, sample_id),
  INDEX annotations_by_source (dataset_id, source),
  INDEX annotations_by_category (dataset_id, category_name)
);
CREATE TABLE IF NOT EXISTS Categories (
  dataset_id STRING,
  category_id INT8,
  name STRING NOT NULL,
  supercategory STRING,
  PRIMARY KEY (dataset_id, category_id)
);
CREATE TABLE IF NOT EXISTS Embeddings (
  dataset_id STRING,
  sample_id STRING,
  model_name STRING NOT NULL,
  vector FLOAT4[] NOT NULL,
  x FLOAT8,
  y FLOAT8,
  PRIMARY KEY (dataset_id, sample_id)
);
CREATE TABLE IF NOT EXISTS SavedViews (
  view_id STRING PRIMARY KEY,
  dataset_id STRING NOT NULL,
  name STRING NOT NULL,
  filters JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  INDEX saved_views_by_dataset (dataset_id)
);
CREATE TABLE IF NOT EXISTS AnnotationTriage (
  dataset_id STRING,
  annotation_id STRING,
  sample_id STRING NOT NULL,
  label STRING NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (dataset_id, annotation_id),
  INDEX annotation_triage_by_sample (dataset_id, sample_id)
);
`

// Migrations are additive column changes for stores created before the
// column existed. Each is idempotent; they run in order at every startup.
var Migrations = []string{
	`ALTER TABLE Samples ADD COLUMN IF NOT EXISTS tags STRING[] NOT NULL DEFAULT ARRAY[]::STRING[]`,
	`ALTER TABLE Samples ADD COLUMN IF NOT EXISTS image_dir STRING`,
	`ALTER TABLE Datasets ADD COLUMN IF NOT EXISTS prediction_count INT8 NOT NULL DEFAULT 0`,
	`ALTER TABLE Datasets ADD COLUMN IF NOT EXISTS dataset_type STRING NOT NULL DEFAULT 'detection'`,
}

// Create applies the schema and all migrations. Safe to call on every
// startup and from init-db.
func Create(ctx context.Context, db pool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return skerr.Wrapf(err, "creating tables")
	}
	for _, stmt := range Migrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return skerr.Wrapf(err, "running migration %q", stmt)
		}
	}
	sklog.Infof("Schema is up to date")
	return nil
}
