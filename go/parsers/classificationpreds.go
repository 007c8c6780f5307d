package parsers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// ClassificationPredsParser streams a JSONL file of predicted labels. It
// accepts the ground-truth filename/label aliases plus prediction-specific
// ones, and several confidence key spellings.
type ClassificationPredsParser struct {
	fs        *storage.Client
	batchSize int
}

// NewClassificationPreds returns a parser reading through the given
// storage client.
func NewClassificationPreds(fs *storage.Client) *ClassificationPredsParser {
	return &ClassificationPredsParser{fs: fs, batchSize: predictionBatchSize}
}

// Parse returns an iterator over the prediction lines. sampleIDs maps
// file_name to sample id.
func (p *ClassificationPredsParser) Parse(path, datasetID, source string, sampleIDs map[string]string) *ClassificationPredsIterator {
	return &ClassificationPredsIterator{parser: p, path: path, datasetID: datasetID, source: source, sampleIDs: sampleIDs}
}

// ClassificationPredsIterator implements AnnotationIterator and counts
// skipped lines.
type ClassificationPredsIterator struct {
	parser    *ClassificationPredsParser
	path      string
	datasetID string
	source    string
	sampleIDs map[string]string

	rc      io.ReadCloser
	scanner *bufio.Scanner
	started bool
	done    bool
	skipped int64
	batch   []types.Annotation
	err     error
}

// Next implements AnnotationIterator.
func (it *ClassificationPredsIterator) Next(ctx context.Context) bool {
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
		it.scanner = newLineScanner(rc)
	}
	it.batch = it.batch[:0]
	for len(it.batch) < it.parser.batchSize {
		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				it.err = apperror.Wrap(apperror.ParseError, skerr.Wrapf(err, "reading %s", it.path))
			}
			it.done = true
			_ = it.Close()
			break
		}
		line := strings.TrimSpace(it.scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			it.skipped++
			continue
		}
		rawName, ok := firstField(record, fileNameKeys)
		if !ok {
			it.skipped++
			continue
		}
		sampleID, ok := it.sampleIDs[rawScalar(rawName)]
		if !ok {
			it.skipped++
			continue
		}
		rawLabel, ok := firstField(record, predictedLabelKeys)
		if !ok || strings.TrimSpace(string(rawLabel)) == "null" {
			it.skipped++
			continue
		}
		var confidence *float64
		if rawConf, ok := firstField(record, confidenceKeys); ok {
			if f, err := strconv.ParseFloat(rawScalar(rawConf), 64); err == nil {
				confidence = &f
			}
		}
		it.batch = append(it.batch, types.Annotation{
			DatasetID:    it.datasetID,
			ID:           uuid.NewString(),
			SampleID:     sampleID,
			CategoryName: rawScalar(rawLabel),
			Source:       it.source,
			Confidence:   confidence,
		})
	}
	return len(it.batch) > 0
}

// Batch implements AnnotationIterator.
func (it *ClassificationPredsIterator) Batch() []types.Annotation {
	return it.batch
}

// Err implements AnnotationIterator.
func (it *ClassificationPredsIterator) Err() error {
	return it.err
}

// Close implements AnnotationIterator.
func (it *ClassificationPredsIterator) Close() error {
	if it.rc == nil {
		return nil
	}
	rc := it.rc
	it.rc = nil
	return rc.Close()
}

// Skipped returns how many lines were dropped for missing filename,
// unmatched sample or missing label.
func (it *ClassificationPredsIterator) Skipped() int64 {
	return it.skipped
}

var _ AnnotationIterator = (*ClassificationPredsIterator)(nil)
