// Package types holds the domain entities shared by the stores, the
// evaluation engines and the HTTP layer.
package types

import (
	"encoding/json"
	"time"
)

// GroundTruth is the annotation source reserved for ground-truth labels.
// Every other source value names a prediction run.
const GroundTruth = "ground_truth"

// DatasetType distinguishes bounding-box corpora from single-label ones.
type DatasetType string

const (
	DetectionDataset      DatasetType = "detection"
	ClassificationDataset DatasetType = "classification"
)

// Valid returns true for a known dataset type.
func (d DatasetType) Valid() bool {
	return d == DetectionDataset || d == ClassificationDataset
}

// Format names the ingestion format of a dataset.
type Format string

const (
	FormatCOCO                Format = "coco"
	FormatClassificationJSONL Format = "classification_jsonl"
)

// Dataset is one ingested corpus with its cached aggregate counters.
type Dataset struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	AnnotationPath  string          `json:"annotation_path"`
	ImageDir        string          `json:"image_dir"`
	Format          Format          `json:"format"`
	Type            DatasetType     `json:"dataset_type"`
	ImageCount      int64           `json:"image_count"`
	AnnotationCount int64           `json:"annotation_count"`
	PredictionCount int64           `json:"prediction_count"`
	CategoryCount   int64           `json:"category_count"`
	CreatedAt       time.Time       `json:"created_at"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// Sample is one image. Width and Height are 0 until known; Split and
// ImageDir are empty when unset.
type Sample struct {
	DatasetID     string   `json:"dataset_id"`
	ID            string   `json:"id"`
	FileName      string   `json:"file_name"`
	Width         int64    `json:"width"`
	Height        int64    `json:"height"`
	Split         string   `json:"split,omitempty"`
	ImageDir      string   `json:"image_dir,omitempty"`
	ThumbnailPath string   `json:"thumbnail_path,omitempty"`
	Tags          []string `json:"tags"`
}

// Annotation is one bounding box (detection) or one label row with a zero
// box (classification). Confidence is nil for ground truth.
type Annotation struct {
	DatasetID    string   `json:"dataset_id"`
	ID           string   `json:"id"`
	SampleID     string   `json:"sample_id"`
	CategoryName string   `json:"category_name"`
	BboxX        float64  `json:"bbox_x"`
	BboxY        float64  `json:"bbox_y"`
	BboxW        float64  `json:"bbox_w"`
	BboxH        float64  `json:"bbox_h"`
	Area         float64  `json:"area"`
	IsCrowd      bool     `json:"is_crowd"`
	Source       string   `json:"source"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Category keeps the source format's numeric id so prediction imports can
// resolve category_id back to a name.
type Category struct {
	DatasetID     string `json:"dataset_id"`
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// Embedding is a per-sample feature vector, optionally with a 2-D
// projection filled in by the reduce task.
type Embedding struct {
	DatasetID string    `json:"dataset_id"`
	SampleID  string    `json:"sample_id"`
	ModelName string    `json:"model_name"`
	Vector    []float32 `json:"vector,omitempty"`
	X         *float64  `json:"x,omitempty"`
	Y         *float64  `json:"y,omitempty"`
}

// SavedView is a named filter state. Filters is opaque to the server.
type SavedView struct {
	ID        string          `json:"id"`
	DatasetID string          `json:"dataset_id"`
	Name      string          `json:"name"`
	Filters   json.RawMessage `json:"filters"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TriageLabel is a manual per-annotation judgement.
type TriageLabel string

const (
	TriageTP      TriageLabel = "tp"
	TriageFP      TriageLabel = "fp"
	TriageFN      TriageLabel = "fn"
	TriageMistake TriageLabel = "mistake"
)

// Valid returns true for one of the four allowed labels.
func (t TriageLabel) Valid() bool {
	switch t {
	case TriageTP, TriageFP, TriageFN, TriageMistake:
		return true
	}
	return false
}

// TriageOverride supersedes the auto-computed label for one annotation.
type TriageOverride struct {
	DatasetID    string      `json:"dataset_id"`
	AnnotationID string      `json:"annotation_id"`
	SampleID     string      `json:"sample_id"`
	Label        TriageLabel `json:"label"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Sample-level triage tags. At most one tag besides TriageTagAnnotated may
// be present per sample; setting a new one replaces it.
const (
	TriageTagPrefix    = "triage:"
	TriageTagAnnotated = "triage:annotated"
)

// TriageTagValues are the sample-level tags a client may set directly.
var TriageTagValues = []string{
	"triage:tp", "triage:fp", "triage:fn", "triage:mistake", TriageTagAnnotated,
}

// ValidTriageTag returns true if tag is one of the allowed triage tags.
func ValidTriageTag(tag string) bool {
	for _, t := range TriageTagValues {
		if tag == t {
			return true
		}
	}
	return false
}
