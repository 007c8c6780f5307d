// Package parsers turns annotation files into batches of store rows
// without ever materialising a whole file. Each parser exposes pgx.Rows
// style iterators: Next fills a batch, Err reports what stopped iteration.
//
// Batch column order matches the store schema (see go/sql/schema), so the
// stores can bulk insert batches without projection. Malformed records are
// skipped with a warning, never fatal; only an unreadable file as a whole
// is an error.
package parsers

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/visionlens/visionlens/go/types"
)

const (
	// groundTruthBatchSize is the row cap per batch for ingestion parsers.
	groundTruthBatchSize = 1000
	// predictionBatchSize is the row cap per batch for prediction-import
	// parsers, which carry narrower rows.
	predictionBatchSize = 5000
)

// SampleIterator yields batches of samples.
type SampleIterator interface {
	// Next advances to the next batch, returning false when the input is
	// exhausted or broken. Check Err after the loop.
	Next(ctx context.Context) bool
	// Batch returns the rows filled by the latest Next call. The slice is
	// reused; callers must consume it before calling Next again.
	Batch() []types.Sample
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases the underlying reader. Safe to call more than once.
	Close() error
}

// AnnotationIterator yields batches of annotations.
type AnnotationIterator interface {
	Next(ctx context.Context) bool
	Batch() []types.Annotation
	Err() error
	Close() error
}

// Key aliases accepted in classification JSONL records.
var (
	fileNameKeys = []string{"filename", "file_name", "image", "path"}
	labelKeys    = []string{"label", "class", "category", "class_name"}
	// Prediction files additionally use these.
	predictedLabelKeys = []string{"label", "class", "category", "class_name", "predicted_label", "prediction"}
	confidenceKeys     = []string{"confidence", "score", "probability", "prob"}
)

// firstField returns the value of the first alias present in the record.
func firstField(record map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := record[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// rawScalar renders a JSON scalar the way its source wrote it: strings
// lose their quotes, numbers keep their literal form. Sample and
// annotation ids from COCO files go through this so integer and string
// ids both work.
func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return s
}

// cocoPeekKeys is how many top-level keys LooksLikeCOCO inspects before
// giving up.
const cocoPeekKeys = 10

// LooksLikeCOCO reports whether r starts with a JSON object carrying an
// "images" key among its first few top-level keys. It reads only as far
// as needed, so callers can hand it the head of a very large file.
func LooksLikeCOCO(r io.Reader) bool {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return false
	}
	for i := 0; i < cocoPeekKeys; i++ {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		key, ok := tok.(string)
		if !ok {
			return false
		}
		if key == "images" {
			return true
		}
		if err := skipValue(dec); err != nil {
			return false
		}
	}
	return false
}

// LooksLikeClassificationRecord reports whether one JSONL line is a
// classification record: a JSON object with a filename alias and a label
// alias and none of the detection keys.
func LooksLikeClassificationRecord(line []byte) bool {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(line, &record); err != nil {
		return false
	}
	if _, ok := record["bbox"]; ok {
		return false
	}
	if _, ok := record["annotations"]; ok {
		return false
	}
	if _, ok := firstField(record, fileNameKeys); !ok {
		return false
	}
	_, ok := firstField(record, labelKeys)
	return ok
}

// skipValue consumes one complete JSON value from the decoder, tracking
// nesting depth for objects and arrays.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
		depth := 1
		for depth > 0 {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			if d, ok := tok.(json.Delim); ok {
				switch d {
				case '{', '[':
					depth++
				case '}', ']':
					depth--
				}
			}
		}
	}
	return nil
}
