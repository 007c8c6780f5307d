package parsers

import (
	"context"
	"encoding/json"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// unmappedWarningCap limits how many per-record warnings a prediction
// import logs before going quiet.
const unmappedWarningCap = 10

// COCOResultsParser streams a flat COCO detection-results array. Each
// element carries image_id, category_id, bbox and score. Predictions whose
// category_id has no mapping are skipped and counted.
type COCOResultsParser struct {
	fs        *storage.Client
	batchSize int
}

// NewCOCOResults returns a parser reading through the given storage
// client.
func NewCOCOResults(fs *storage.Client) *COCOResultsParser {
	return &COCOResultsParser{fs: fs, batchSize: predictionBatchSize}
}

// cocoResult is one element of the results array.
type cocoResult struct {
	ImageID    json.RawMessage `json:"image_id"`
	CategoryID *int64          `json:"category_id"`
	Bbox       []float64       `json:"bbox"`
	Score      float64         `json:"score"`
}

// Parse returns an iterator over the results array. categories is the
// dataset's id-to-name registry.
func (p *COCOResultsParser) Parse(path, datasetID, source string, categories map[int64]string) *COCOResultsIterator {
	return &COCOResultsIterator{parser: p, path: path, datasetID: datasetID, source: source, categories: categories}
}

// COCOResultsIterator implements AnnotationIterator and additionally
// reports how many predictions were skipped.
type COCOResultsIterator struct {
	parser     *COCOResultsParser
	path       string
	datasetID  string
	source     string
	categories map[int64]string

	rc      io.ReadCloser
	dec     *json.Decoder
	started bool
	done    bool
	skipped int64
	batch   []types.Annotation
	err     error
}

// Next implements AnnotationIterator.
func (it *COCOResultsIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done {
		return false
	}
	if !it.started {
		it.started = true
		rc, err := it.parser.fs.Open(ctx, it.path)
		if err != nil {
			it.err = apperror.Wrap(apperror.BadInput, skerr.Wrap(err))
			return false
		}
		it.rc = rc
		it.dec = json.NewDecoder(rc)
		tok, err := it.dec.Token()
		if err != nil {
			it.fail(skerr.Wrapf(err, "reading document start"))
			return false
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			it.fail(skerr.Fmt("results file is not a JSON array"))
			return false
		}
	}
	it.batch = it.batch[:0]
	for len(it.batch) < it.parser.batchSize {
		if !it.dec.More() {
			it.done = true
			_ = it.Close()
			break
		}
		var raw json.RawMessage
		if err := it.dec.Decode(&raw); err != nil {
			it.fail(skerr.Wrapf(err, "reading results array"))
			break
		}
		var pred cocoResult
		if err := json.Unmarshal(raw, &pred); err != nil || len(pred.ImageID) == 0 {
			it.skip("Skipping malformed prediction record")
			continue
		}
		categoryName := ""
		if pred.CategoryID != nil {
			categoryName = it.categories[*pred.CategoryID]
		}
		if categoryName == "" {
			it.skip("Skipping prediction with unmapped category_id")
			continue
		}
		bbox := pred.Bbox
		if len(bbox) < 4 {
			bbox = []float64{0, 0, 0, 0}
		}
		confidence := pred.Score
		it.batch = append(it.batch, types.Annotation{
			DatasetID:    it.datasetID,
			ID:           uuid.NewString(),
			SampleID:     normalizeImageID(pred.ImageID),
			CategoryName: categoryName,
			BboxX:        bbox[0],
			BboxY:        bbox[1],
			BboxW:        bbox[2],
			BboxH:        bbox[3],
			Area:         bbox[2] * bbox[3],
			Source:       it.source,
			Confidence:   &confidence,
		})
	}
	return len(it.batch) > 0
}

// Batch implements AnnotationIterator.
func (it *COCOResultsIterator) Batch() []types.Annotation {
	return it.batch
}

// Err implements AnnotationIterator.
func (it *COCOResultsIterator) Err() error {
	return it.err
}

// Close implements AnnotationIterator.
func (it *COCOResultsIterator) Close() error {
	if it.rc == nil {
		return nil
	}
	rc := it.rc
	it.rc = nil
	return rc.Close()
}

// Skipped returns how many predictions were dropped.
func (it *COCOResultsIterator) Skipped() int64 {
	return it.skipped
}

func (it *COCOResultsIterator) skip(msg string) {
	it.skipped++
	if it.skipped <= unmappedWarningCap {
		sklog.Warningf("%s in %s", msg, it.path)
	} else if it.skipped == unmappedWarningCap+1 {
		sklog.Warningf("Suppressing further skipped-prediction warnings for %s", it.path)
	}
}

func (it *COCOResultsIterator) fail(err error) {
	it.err = apperror.Wrap(apperror.ParseError, err)
	_ = it.Close()
}

// normalizeImageID renders a results image_id the way the images pass
// rendered the matching id: integers lose any trailing ".0", strings pass
// through.
func normalizeImageID(raw json.RawMessage) string {
	s := rawScalar(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

var _ AnnotationIterator = (*COCOResultsIterator)(nil)
