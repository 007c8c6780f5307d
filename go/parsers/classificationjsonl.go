package parsers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// maxJSONLLineBytes bounds one JSONL line. Classification records are tiny;
// anything bigger than this is not a classification file.
const maxJSONLLineBytes = 1024 * 1024

// ClassificationJSONLParser streams a JSONL file where each line maps an
// image filename to one or more labels. Sample ids are derived from the
// line index so ground truth and later prediction imports line up by
// filename, not by position.
type ClassificationJSONLParser struct {
	fs        *storage.Client
	batchSize int
}

// NewClassificationJSONL returns a parser reading through the given
// storage client.
func NewClassificationJSONL(fs *storage.Client) *ClassificationJSONLParser {
	return &ClassificationJSONLParser{fs: fs, batchSize: groundTruthBatchSize}
}

// Categories collects the distinct labels in one pass, sorted, with ids
// assigned by position. Unreadable lines are skipped.
func (p *ClassificationJSONLParser) Categories(ctx context.Context, path string) ([]types.Category, error) {
	rc, err := p.fs.Open(ctx, path)
	if err != nil {
		return nil, apperror.Wrap(apperror.BadInput, skerr.Wrap(err))
	}
	defer func() {
		_ = rc.Close()
	}()
	labels := map[string]bool{}
	scanner := newLineScanner(rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		for _, l := range labelsFromRecord(record, labelKeys) {
			labels[l] = true
		}
	}
	if err := scanner.Err(); err != nil {
		sklog.Warningf("Could not read categories from %s: %s", path, err)
	}
	names := make([]string, 0, len(labels))
	for l := range labels {
		names = append(names, l)
	}
	sort.Strings(names)
	rv := make([]types.Category, 0, len(names))
	for i, name := range names {
		rv = append(rv, types.Category{ID: int64(i), Name: name})
	}
	return rv, nil
}

// Images returns an iterator over the file's samples. imageDir is recorded
// per sample so multi-split datasets resolve each split's directory.
func (p *ClassificationJSONLParser) Images(path, datasetID, split, imageDir string) SampleIterator {
	return &jsonlSampleIterator{parser: p, path: path, datasetID: datasetID, split: split, imageDir: imageDir}
}

// Annotations returns an iterator over the file's labels. Multi-label
// records emit one annotation per label; a missing label becomes
// "unknown". Boxes are sentinel zeros.
func (p *ClassificationJSONLParser) Annotations(path, datasetID, split string) AnnotationIterator {
	return &jsonlAnnotationIterator{parser: p, path: path, datasetID: datasetID, split: split}
}

// newLineScanner returns a Scanner sized for JSONL lines.
func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLineBytes)
	return scanner
}

// labelsFromRecord extracts the label list using the alias order. Missing
// or null labels collapse to "unknown"; an explicit empty list stays empty.
func labelsFromRecord(record map[string]json.RawMessage, keys []string) []string {
	raw, ok := firstField(record, keys)
	if !ok || strings.TrimSpace(string(raw)) == "null" {
		return []string{"unknown"}
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return []string{"unknown"}
		}
		rv := make([]string, 0, len(items))
		for _, item := range items {
			rv = append(rv, rawScalar(item))
		}
		return rv
	}
	return []string{rawScalar(raw)}
}

// jsonlLineID derives the sample id for a line index.
func jsonlLineID(split string, idx int) string {
	if split != "" {
		return fmt.Sprintf("%s_%d", split, idx)
	}
	return strconv.Itoa(idx)
}

// jsonlAnnotationID derives an annotation id from a running counter.
func jsonlAnnotationID(split string, counter int) string {
	if split != "" {
		return fmt.Sprintf("%s_ann_%d", split, counter)
	}
	return fmt.Sprintf("ann_%d", counter)
}

// jsonlSampleIterator streams samples out of a JSONL file.
type jsonlSampleIterator struct {
	parser    *ClassificationJSONLParser
	path      string
	datasetID string
	split     string
	imageDir  string

	rc      io.ReadCloser
	scanner *bufio.Scanner
	started bool
	done    bool
	idx     int
	batch   []types.Sample
	err     error
}

// Next implements SampleIterator.
func (it *jsonlSampleIterator) Next(ctx context.Context) bool {
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
			continue
		}
		rawName, ok := firstField(record, fileNameKeys)
		if !ok {
			sklog.Warningf("Skipping line %d of %s: no filename field", it.idx, it.path)
			it.idx++
			continue
		}
		it.batch = append(it.batch, types.Sample{
			DatasetID: it.datasetID,
			ID:        jsonlLineID(it.split, it.idx),
			FileName:  rawScalar(rawName),
			Split:     it.split,
			ImageDir:  it.imageDir,
		})
		it.idx++
	}
	return len(it.batch) > 0
}

// Batch implements SampleIterator.
func (it *jsonlSampleIterator) Batch() []types.Sample {
	return it.batch
}

// Err implements SampleIterator.
func (it *jsonlSampleIterator) Err() error {
	return it.err
}

// Close implements SampleIterator.
func (it *jsonlSampleIterator) Close() error {
	if it.rc == nil {
		return nil
	}
	rc := it.rc
	it.rc = nil
	return rc.Close()
}

// jsonlAnnotationIterator streams label annotations out of a JSONL file.
// Its line-index bookkeeping must match jsonlSampleIterator exactly or
// annotations detach from their samples.
type jsonlAnnotationIterator struct {
	parser    *ClassificationJSONLParser
	path      string
	datasetID string
	split     string

	rc      io.ReadCloser
	scanner *bufio.Scanner
	started bool
	done    bool
	idx     int
	counter int
	batch   []types.Annotation
	err     error
}

// Next implements AnnotationIterator.
func (it *jsonlAnnotationIterator) Next(ctx context.Context) bool {
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
			continue
		}
		if _, ok := firstField(record, fileNameKeys); !ok {
			it.idx++
			continue
		}
		sampleID := jsonlLineID(it.split, it.idx)
		for _, label := range labelsFromRecord(record, labelKeys) {
			it.batch = append(it.batch, types.Annotation{
				DatasetID:    it.datasetID,
				ID:           jsonlAnnotationID(it.split, it.counter),
				SampleID:     sampleID,
				CategoryName: label,
				Source:       types.GroundTruth,
			})
			it.counter++
		}
		it.idx++
	}
	return len(it.batch) > 0
}

// Batch implements AnnotationIterator.
func (it *jsonlAnnotationIterator) Batch() []types.Annotation {
	return it.batch
}

// Err implements AnnotationIterator.
func (it *jsonlAnnotationIterator) Err() error {
	return it.err
}

// Close implements AnnotationIterator.
func (it *jsonlAnnotationIterator) Close() error {
	if it.rc == nil {
		return nil
	}
	rc := it.rc
	it.rc = nil
	return rc.Close()
}

var _ SampleIterator = (*jsonlSampleIterator)(nil)
var _ AnnotationIterator = (*jsonlAnnotationIterator)(nil)
