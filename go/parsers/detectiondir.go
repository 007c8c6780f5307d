package parsers

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// SampleDims is the per-filename lookup the detection-directory parser
// needs to convert normalised boxes to pixels.
type SampleDims struct {
	SampleID string
	Width    int64
	Height   int64
}

// DetectionDirParser reads a directory of per-image JSON files, each a
// self-contained record:
//
//	{
//	  "filename": "image.jpg",
//	  "categories": {"0": "ball", "1": "player"},
//	  "annotations": [
//	    {"bbox": {"x": 0.1, "y": 0.2, "w": 0.3, "h": 0.4},
//	     "confidence": 0.95, "class_id": 1}
//	  ]
//	}
//
// Boxes are normalised to [0,1] and scaled by the matching sample's
// dimensions. Files without a matching sample are skipped and counted.
type DetectionDirParser struct {
	fs        *storage.Client
	batchSize int
}

// NewDetectionDir returns a parser reading through the given storage
// client.
func NewDetectionDir(fs *storage.Client) *DetectionDirParser {
	return &DetectionDirParser{fs: fs, batchSize: predictionBatchSize}
}

// detectionFile is the decoded shape of one per-image JSON file.
type detectionFile struct {
	Filename    string            `json:"filename"`
	Categories  map[string]string `json:"categories"`
	Annotations []struct {
		Bbox struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
			W float64 `json:"w"`
			H float64 `json:"h"`
		} `json:"bbox"`
		Confidence float64 `json:"confidence"`
		ClassID    *int64  `json:"class_id"`
	} `json:"annotations"`
}

// Parse returns an iterator over the directory's prediction files.
// sampleDims maps file_name to the sample id and pixel dimensions.
func (p *DetectionDirParser) Parse(dirPath, datasetID, source string, sampleDims map[string]SampleDims) *DetectionDirIterator {
	return &DetectionDirIterator{parser: p, dirPath: dirPath, datasetID: datasetID, source: source, sampleDims: sampleDims}
}

// DetectionDirIterator implements AnnotationIterator over per-image files.
type DetectionDirIterator struct {
	parser     *DetectionDirParser
	dirPath    string
	datasetID  string
	source     string
	sampleDims map[string]SampleDims

	started      bool
	files        []string
	nextFile     int
	skippedFiles int64
	unmatched    int64
	batch        []types.Annotation
	err          error
}

// Next implements AnnotationIterator.
func (it *DetectionDirIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if !it.started {
		it.started = true
		entries, err := it.parser.fs.ListDir(ctx, it.dirPath)
		if err != nil {
			it.err = apperror.Wrap(apperror.BadInput, skerr.Wrap(err))
			return false
		}
		for _, e := range entries {
			if !e.IsDir && strings.HasSuffix(e.Name, ".json") {
				it.files = append(it.files, e.Name)
			}
		}
		sort.Strings(it.files)
		if len(it.files) == 0 {
			sklog.Warningf("No JSON files found in %s", it.dirPath)
		}
	}
	it.batch = it.batch[:0]
	for len(it.batch) < it.parser.batchSize && it.nextFile < len(it.files) {
		name := it.files[it.nextFile]
		it.nextFile++
		path := storage.ResolveImagePath(it.dirPath, name)
		b, err := it.parser.fs.ReadBytes(ctx, path)
		if err != nil {
			it.skippedFiles++
			sklog.Warningf("Skipping unreadable file %s: %s", name, err)
			continue
		}
		var file detectionFile
		if err := json.Unmarshal(b, &file); err != nil {
			it.skippedFiles++
			sklog.Warningf("Skipping unreadable file %s: %s", name, err)
			continue
		}
		dims, ok := it.sampleDims[file.Filename]
		if !ok {
			it.unmatched++
			if it.unmatched <= unmappedWarningCap {
				sklog.Warningf("No matching sample for filename=%s, skipping %d predictions", file.Filename, len(file.Annotations))
			} else if it.unmatched == unmappedWarningCap+1 {
				sklog.Warningf("Suppressing further unmatched filename warnings for %s", it.dirPath)
			}
			continue
		}
		w := float64(dims.Width)
		h := float64(dims.Height)
		for _, ann := range file.Annotations {
			categoryName := "class_-1"
			if ann.ClassID != nil {
				id := strconv.FormatInt(*ann.ClassID, 10)
				if name, ok := file.Categories[id]; ok {
					categoryName = name
				} else {
					categoryName = "class_" + id
				}
			}
			confidence := ann.Confidence
			absW := ann.Bbox.W * w
			absH := ann.Bbox.H * h
			it.batch = append(it.batch, types.Annotation{
				DatasetID:    it.datasetID,
				ID:           uuid.NewString(),
				SampleID:     dims.SampleID,
				CategoryName: categoryName,
				BboxX:        ann.Bbox.X * w,
				BboxY:        ann.Bbox.Y * h,
				BboxW:        absW,
				BboxH:        absH,
				Area:         absW * absH,
				Source:       it.source,
				Confidence:   &confidence,
			})
		}
	}
	return len(it.batch) > 0
}

// Batch implements AnnotationIterator.
func (it *DetectionDirIterator) Batch() []types.Annotation {
	return it.batch
}

// Err implements AnnotationIterator.
func (it *DetectionDirIterator) Err() error {
	return it.err
}

// Close implements AnnotationIterator.
func (it *DetectionDirIterator) Close() error {
	return nil
}

// SkippedFiles returns how many files were unreadable.
func (it *DetectionDirIterator) SkippedFiles() int64 {
	return it.skippedFiles
}

// UnmatchedFiles returns how many files had no matching sample.
func (it *DetectionDirIterator) UnmatchedFiles() int64 {
	return it.unmatched
}

var _ AnnotationIterator = (*DetectionDirIterator)(nil)
