// Package ingest orchestrates dataset ingestion: streaming parse, bulk
// insert, aggregate bookkeeping, thumbnail backfill and plugin hooks.
//
// Ingest emits progress events through a caller-supplied callback as it
// goes, so the HTTP layer can turn a run directly into an SSE stream.
// Event order for a successful run is fixed: categories, parsing_images
// (repeated), parsing_annotations (repeated), thumbnails, complete.
package ingest

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/imaging"
	"github.com/visionlens/visionlens/go/now"
	"github.com/visionlens/visionlens/go/parsers"
	"github.com/visionlens/visionlens/go/plugins"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// thumbnailBackfillLimit caps how many thumbnails one ingestion run
// pre-renders. The rest are generated lazily at serve time.
const thumbnailBackfillLimit = 500

// Stage names, in emission order. split_start only appears in multi-split
// imports, before each split's own event sequence. StageError is never
// emitted by the Ingester itself; the HTTP layer appends it as a terminal
// event when a run fails after the stream has started.
const (
	StageSplitStart         = "split_start"
	StageCategories         = "categories"
	StageParsingImages      = "parsing_images"
	StageParsingAnnotations = "parsing_annotations"
	StageThumbnails         = "thumbnails"
	StageComplete           = "complete"
	StageError              = "error"
)

// Event is one progress update. Total is nil while the total is unknown,
// which is the case for the streaming parse stages.
type Event struct {
	Stage   string `json:"stage"`
	Current int64  `json:"current"`
	Total   *int64 `json:"total"`
	Message string `json:"message"`
	Split   string `json:"split,omitempty"`
}

// Request describes one single-split ingestion.
type Request struct {
	AnnotationPath string
	ImageDir       string
	// DatasetName defaults to the annotation file's stem.
	DatasetName string
	// Format defaults to COCO.
	Format types.Format
	Split  string
	// DatasetID, when set, accumulates this split into an existing
	// dataset instead of creating a new one.
	DatasetID string
}

// Split is one entry of a multi-split import.
type Split struct {
	Name           string `json:"name"`
	AnnotationPath string `json:"annotation_path"`
	ImageDir       string `json:"image_dir"`
}

// Ingester runs ingestions against the injected stores.
type Ingester struct {
	datasets    datasets.Store
	samples     samples.Store
	annotations annotations.Store
	files       *storage.Client
	thumbs      *imaging.Service
	plugins     *plugins.Host

	// busy serialises prediction imports per dataset, mirroring the task
	// engine's check-and-set gate.
	mtx  sync.Mutex
	busy map[string]bool
}

// New returns an Ingester.
func New(ds datasets.Store, ss samples.Store, as annotations.Store, files *storage.Client, thumbs *imaging.Service, host *plugins.Host) *Ingester {
	return &Ingester{
		datasets:    ds,
		samples:     ss,
		annotations: as,
		files:       files,
		thumbs:      thumbs,
		plugins:     host,
		busy:        map[string]bool{},
	}
}

// Ingest runs one single-split ingestion, emitting progress events as it
// goes. Already-inserted batches stay in the store if a later step fails.
func (ing *Ingester) Ingest(ctx context.Context, req Request, emit func(Event)) error {
	datasetID := req.DatasetID
	if datasetID == "" {
		datasetID = uuid.NewString()
	}
	name := req.DatasetName
	if name == "" {
		name = fileStem(req.AnnotationPath)
	}
	format := req.Format
	if format == "" {
		format = types.FormatCOCO
	}

	pc := plugins.Context{DatasetID: datasetID}
	ing.plugins.IngestStart(ctx, pc)

	cats, images, anns, err := ing.open(ctx, req, datasetID, format)
	if err != nil {
		return err
	}
	defer func() {
		_ = images.Close()
		_ = anns.Close()
	}()

	catTotal := int64(len(cats))
	emit(Event{
		Stage:   StageCategories,
		Current: catTotal,
		Total:   &catTotal,
		Message: fmt.Sprintf("Loaded %d categories", len(cats)),
	})

	var imageCount int64
	for images.Next(ctx) {
		batch := images.Batch()
		for i := range batch {
			batch[i] = ing.plugins.SampleIngested(ctx, pc, batch[i])
		}
		if err := ing.samples.InsertBatch(ctx, batch); err != nil {
			return err
		}
		imageCount += int64(len(batch))
		emit(Event{
			Stage:   StageParsingImages,
			Current: imageCount,
			Message: fmt.Sprintf("Parsed %d images", imageCount),
		})
	}
	if err := images.Err(); err != nil {
		return err
	}
	if imageCount == 0 {
		// An empty images array still reports the stage, so observers
		// always see the full sequence.
		emit(Event{Stage: StageParsingImages, Current: 0, Message: "Parsed 0 images"})
	}

	var annCount int64
	for anns.Next(ctx) {
		batch := anns.Batch()
		if err := ing.annotations.InsertBatch(ctx, batch); err != nil {
			return err
		}
		annCount += int64(len(batch))
		emit(Event{
			Stage:   StageParsingAnnotations,
			Current: annCount,
			Message: fmt.Sprintf("Parsed %d annotations", annCount),
		})
	}
	if err := anns.Err(); err != nil {
		return err
	}

	if err := ing.recordDataset(ctx, req, datasetID, name, format, imageCount, annCount, cats); err != nil {
		return err
	}

	ing.backfillThumbnails(ctx, datasetID, req.ImageDir, imageCount, emit)

	ing.plugins.IngestComplete(ctx, pc, plugins.Stats{
		Images:      imageCount,
		Annotations: annCount,
		Categories:  int64(len(cats)),
	})

	emit(Event{
		Stage:   StageComplete,
		Current: imageCount,
		Total:   &imageCount,
		Message: fmt.Sprintf("Ingestion complete: %d images, %d annotations", imageCount, annCount),
	})
	return nil
}

// IngestSplits runs several single-split ingestions under one shared
// dataset id, so the splits accumulate into a single dataset. Each split
// is announced with a split_start event, and every forwarded event
// carries the split currently being ingested. Returns the dataset id.
func (ing *Ingester) IngestSplits(ctx context.Context, datasetName string, format types.Format, spls []Split, emit func(Event)) (string, error) {
	datasetID := uuid.NewString()
	totalSplits := int64(len(spls))
	for i, sp := range spls {
		emit(Event{
			Stage:   StageSplitStart,
			Current: int64(i + 1),
			Total:   &totalSplits,
			Message: fmt.Sprintf("Starting split: %s (%d/%d)", sp.Name, i+1, len(spls)),
			Split:   sp.Name,
		})
		req := Request{
			AnnotationPath: sp.AnnotationPath,
			ImageDir:       sp.ImageDir,
			DatasetName:    datasetName,
			Format:         format,
			Split:          sp.Name,
			DatasetID:      datasetID,
		}
		err := ing.Ingest(ctx, req, func(ev Event) {
			ev.Split = sp.Name
			emit(ev)
		})
		if err != nil {
			return datasetID, err
		}
	}
	return datasetID, nil
}

// open builds the category list and both iterators for the request's
// format. A missing annotation file surfaces here as BadInput.
func (ing *Ingester) open(ctx context.Context, req Request, datasetID string, format types.Format) ([]types.Category, parsers.SampleIterator, parsers.AnnotationIterator, error) {
	switch format {
	case types.FormatClassificationJSONL:
		p := parsers.NewClassificationJSONL(ing.files)
		cats, err := p.Categories(ctx, req.AnnotationPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return cats,
			p.Images(req.AnnotationPath, datasetID, req.Split, req.ImageDir),
			p.Annotations(req.AnnotationPath, datasetID, req.Split),
			nil
	case types.FormatCOCO:
		p := parsers.NewCOCO(ing.files)
		cats, err := p.Categories(ctx, req.AnnotationPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return cats,
			p.Images(req.AnnotationPath, datasetID, req.Split),
			p.Annotations(req.AnnotationPath, datasetID, parsers.CategoryMap(cats)),
			nil
	}
	return nil, nil, nil, apperror.New(apperror.BadInput, "unsupported ingestion format %q", format)
}

// recordDataset inserts the dataset row on first ingest, or accumulates
// counters when a later split lands in an existing dataset. Categories
// are deduplicated on (dataset_id, category_id).
func (ing *Ingester) recordDataset(ctx context.Context, req Request, datasetID, name string, format types.Format, imageCount, annCount int64, cats []types.Category) error {
	exists, err := ing.datasets.Exists(ctx, datasetID)
	if err != nil {
		return err
	}
	if exists {
		if err := ing.datasets.AddCounts(ctx, datasetID, imageCount, annCount); err != nil {
			return err
		}
	} else {
		d := types.Dataset{
			ID:              datasetID,
			Name:            name,
			AnnotationPath:  req.AnnotationPath,
			ImageDir:        req.ImageDir,
			Format:          format,
			Type:            datasetTypeFor(format),
			ImageCount:      imageCount,
			AnnotationCount: annCount,
			CategoryCount:   int64(len(cats)),
			CreatedAt:       now.Now(ctx),
		}
		if err := ing.datasets.Create(ctx, d); err != nil {
			return err
		}
	}
	if len(cats) == 0 {
		return nil
	}
	withID := make([]types.Category, len(cats))
	for i, c := range cats {
		c.DatasetID = datasetID
		withID[i] = c
	}
	if err := ing.datasets.InsertCategories(ctx, withID); err != nil {
		return err
	}
	if exists {
		// A later split may introduce new categories; recount instead of
		// guessing.
		return ing.datasets.RefreshDerivedCounts(ctx, datasetID)
	}
	return nil
}

// backfillThumbnails pre-renders medium thumbnails for up to 500 samples
// that lack one. Failures are counted in the progress message and logged,
// never returned.
func (ing *Ingester) backfillThumbnails(ctx context.Context, datasetID, imageDir string, imageCount int64, emit func(Event)) {
	limit := int64(thumbnailBackfillLimit)
	if imageCount < limit {
		limit = imageCount
	}
	if limit <= 0 {
		zero := int64(0)
		emit(Event{
			Stage:   StageThumbnails,
			Current: 0,
			Total:   &zero,
			Message: "No images to generate thumbnails for",
		})
		return
	}
	missing, err := ing.samples.MissingThumbnails(ctx, datasetID, int(limit))
	if err != nil {
		sklog.Warningf("Could not list samples for thumbnail backfill: %s", err)
		missing = nil
	}
	refs := make([]imaging.SampleRef, 0, len(missing))
	for _, s := range missing {
		dir := imageDir
		if s.ImageDir != "" {
			dir = s.ImageDir
		}
		refs = append(refs, imaging.SampleRef{
			ID:        s.ID,
			ImagePath: storage.ResolveImagePath(dir, s.FileName),
		})
	}
	generated, errs := ing.thumbs.GenerateBatch(ctx, refs, imaging.SizeMedium)
	emit(Event{
		Stage:   StageThumbnails,
		Current: int64(generated),
		Total:   &limit,
		Message: fmt.Sprintf("Generated %d thumbnails (%d errors)", generated, errs),
	})
}

// datasetTypeFor maps an ingestion format to the dataset type it builds.
func datasetTypeFor(format types.Format) types.DatasetType {
	if format == types.FormatClassificationJSONL {
		return types.ClassificationDataset
	}
	return types.DetectionDataset
}

// fileStem returns the file name without directory or extension, for both
// local and object-store paths.
func fileStem(p string) string {
	base := filepath.Base(p)
	if strings.HasPrefix(p, "gs://") {
		base = path.Base(p)
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
