package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/parsers"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// Prediction file formats accepted by ImportPredictions.
const (
	PredictionFormatCOCO                = "coco"
	PredictionFormatDetectionAnnotation = "detection_annotation"
	PredictionFormatClassificationJSONL = "classification_jsonl"
)

// defaultRunName is the fallback when nothing better can be derived.
const defaultRunName = "prediction"

// PredictionRequest describes one prediction-run import.
type PredictionRequest struct {
	DatasetID      string
	PredictionPath string
	// Format defaults to coco.
	Format string
	// RunName is derived from the file when empty.
	RunName string
}

// PredictionResult reports what an import did.
type PredictionResult struct {
	DatasetID       string `json:"dataset_id"`
	RunName         string `json:"run_name"`
	PredictionCount int64  `json:"prediction_count"`
	SkippedCount    int64  `json:"skipped_count"`
	Message         string `json:"message"`
}

// ImportPredictions loads a prediction run into the dataset. The run's
// prior annotations are deleted first, so importing the same file twice
// yields identical rows. Ground truth is never touched. Imports for the
// same dataset are serialised; a concurrent one returns Conflict.
func (ing *Ingester) ImportPredictions(ctx context.Context, req PredictionRequest) (PredictionResult, error) {
	switch req.Format {
	case PredictionFormatCOCO, PredictionFormatDetectionAnnotation, PredictionFormatClassificationJSONL, "":
	default:
		return PredictionResult{}, apperror.New(apperror.BadInput, "unsupported prediction format %q", req.Format)
	}

	ing.mtx.Lock()
	if ing.busy[req.DatasetID] {
		ing.mtx.Unlock()
		return PredictionResult{}, apperror.New(apperror.Conflict, "a prediction import is already running for dataset %s", req.DatasetID)
	}
	ing.busy[req.DatasetID] = true
	ing.mtx.Unlock()
	defer func() {
		ing.mtx.Lock()
		delete(ing.busy, req.DatasetID)
		ing.mtx.Unlock()
	}()

	if _, err := ing.datasets.Get(ctx, req.DatasetID); err != nil {
		return PredictionResult{}, err
	}

	runName := req.RunName
	if runName == "" {
		runName = ing.deriveRunName(ctx, req.PredictionPath, req.Format)
	}
	if runName == types.GroundTruth {
		return PredictionResult{}, apperror.New(apperror.BadInput, "run name %q is reserved", types.GroundTruth)
	}

	// Replace the run wholesale so re-imports never duplicate.
	if _, err := ing.annotations.DeleteSource(ctx, req.DatasetID, runName); err != nil {
		return PredictionResult{}, err
	}

	var (
		inserted, skipped int64
		err               error
	)
	switch req.Format {
	case PredictionFormatDetectionAnnotation:
		inserted, skipped, err = ing.importDetectionDir(ctx, req.DatasetID, req.PredictionPath, runName)
	case PredictionFormatClassificationJSONL:
		inserted, skipped, err = ing.importClassificationPreds(ctx, req.DatasetID, req.PredictionPath, runName)
	default:
		inserted, skipped, err = ing.importCOCOResults(ctx, req.DatasetID, req.PredictionPath, runName)
	}
	if err != nil {
		return PredictionResult{}, err
	}

	if err := ing.datasets.RefreshDerivedCounts(ctx, req.DatasetID); err != nil {
		return PredictionResult{}, err
	}

	message := fmt.Sprintf("Imported %d predictions", inserted)
	if skipped > 0 {
		message += fmt.Sprintf(" (%d skipped: unmatched files or categories)", skipped)
	}
	sklog.Infof("Dataset %s: %s", req.DatasetID, message)
	return PredictionResult{
		DatasetID:       req.DatasetID,
		RunName:         runName,
		PredictionCount: inserted,
		SkippedCount:    skipped,
		Message:         message,
	}, nil
}

// importCOCOResults streams a flat COCO results array into the run.
func (ing *Ingester) importCOCOResults(ctx context.Context, datasetID, path, runName string) (int64, int64, error) {
	cats, err := ing.datasets.ListCategories(ctx, datasetID)
	if err != nil {
		return 0, 0, err
	}
	it := parsers.NewCOCOResults(ing.files).Parse(path, datasetID, runName, parsers.CategoryMap(cats))
	inserted, err := ing.insertBatches(ctx, it)
	if err != nil {
		return 0, 0, err
	}
	return inserted, it.Skipped(), nil
}

// importClassificationPreds streams a predicted-label JSONL into the run,
// matching lines to samples by file name.
func (ing *Ingester) importClassificationPreds(ctx context.Context, datasetID, path, runName string) (int64, int64, error) {
	all, err := ing.samples.ListAll(ctx, datasetID)
	if err != nil {
		return 0, 0, err
	}
	sampleIDs := make(map[string]string, len(all))
	for _, s := range all {
		sampleIDs[s.FileName] = s.ID
	}
	it := parsers.NewClassificationPreds(ing.files).Parse(path, datasetID, runName, sampleIDs)
	inserted, err := ing.insertBatches(ctx, it)
	if err != nil {
		return 0, 0, err
	}
	return inserted, it.Skipped(), nil
}

// importDetectionDir streams a directory of per-image prediction files
// into the run, scaling normalised boxes by the matching sample's pixel
// dimensions.
func (ing *Ingester) importDetectionDir(ctx context.Context, datasetID, path, runName string) (int64, int64, error) {
	all, err := ing.samples.ListAll(ctx, datasetID)
	if err != nil {
		return 0, 0, err
	}
	dims := make(map[string]parsers.SampleDims, len(all))
	for _, s := range all {
		dims[s.FileName] = parsers.SampleDims{SampleID: s.ID, Width: s.Width, Height: s.Height}
	}
	it := parsers.NewDetectionDir(ing.files).Parse(path, datasetID, runName, dims)
	inserted, err := ing.insertBatches(ctx, it)
	if err != nil {
		return 0, 0, err
	}
	return inserted, it.SkippedFiles() + it.UnmatchedFiles(), nil
}

// insertBatches drains any annotation iterator into the store, returning
// the row count.
func (ing *Ingester) insertBatches(ctx context.Context, it parsers.AnnotationIterator) (int64, error) {
	defer func() {
		_ = it.Close()
	}()
	var inserted int64
	for it.Next(ctx) {
		batch := it.Batch()
		if err := ing.annotations.InsertBatch(ctx, batch); err != nil {
			return 0, err
		}
		inserted += int64(len(batch))
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// deriveRunName names a run when the caller did not. Detection-annotation
// directories carry metadata in each file's info block; file formats fall
// back to the file stem.
func (ing *Ingester) deriveRunName(ctx context.Context, path, format string) string {
	if format == PredictionFormatDetectionAnnotation {
		return ing.runNameFromDetectionDir(ctx, path)
	}
	if stem := fileStem(path); stem != "" {
		return stem
	}
	return defaultRunName
}

// runNameFromDetectionDir reads the first JSON file's info block and
// combines annotations_source with the date part of created_at. Every
// failure falls back to "prediction".
func (ing *Ingester) runNameFromDetectionDir(ctx context.Context, dir string) string {
	entries, err := ing.files.ListDir(ctx, dir)
	if err != nil {
		return defaultRunName
	}
	first := ""
	for _, e := range entries {
		if !e.IsDir && strings.HasSuffix(e.Name, ".json") {
			first = e.Name
			break
		}
	}
	if first == "" {
		return defaultRunName
	}
	b, err := ing.files.ReadBytes(ctx, storage.ResolveImagePath(dir, first))
	if err != nil {
		return defaultRunName
	}
	var doc struct {
		Info struct {
			AnnotationsSource string `json:"annotations_source"`
			CreatedAt         string `json:"created_at"`
		} `json:"info"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return defaultRunName
	}
	source := doc.Info.AnnotationsSource
	datePart := ""
	if doc.Info.CreatedAt != "" {
		datePart = strings.SplitN(strings.SplitN(doc.Info.CreatedAt, "T", 2)[0], " ", 2)[0]
	}
	switch {
	case source != "" && datePart != "":
		return source + "_" + datePart
	case source != "":
		return source
	case datePart != "":
		return defaultRunName + "_" + datePart
	}
	return defaultRunName
}
