package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/eventstream"
	"github.com/visionlens/visionlens/go/imaging"
	"github.com/visionlens/visionlens/go/ingest"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/tasks"
	"github.com/visionlens/visionlens/go/types"
	"github.com/visionlens/visionlens/go/vecstore"
)

// datasetsApi serves the dataset lifecycle: ingest, list, get, delete and
// prediction imports.
type datasetsApi struct {
	datasets datasets.Store
	samples  samples.Store
	ingester *ingest.Ingester
	thumbs   *imaging.Service
	index    vecstore.Store
	nearDup  *tasks.NearDuplicateWorker
	events   eventstream.Server
}

func newDatasetsApi(ds datasets.Store, ss samples.Store, ing *ingest.Ingester, thumbs *imaging.Service, index vecstore.Store, nearDup *tasks.NearDuplicateWorker, events eventstream.Server) datasetsApi {
	return datasetsApi{
		datasets: ds,
		samples:  ss,
		ingester: ing,
		thumbs:   thumbs,
		index:    index,
		nearDup:  nearDup,
		events:   events,
	}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a datasetsApi) RegisterHandlers(router *chi.Mux) {
	router.Post("/datasets/ingest", a.ingestHandler)
	router.Get("/datasets", a.listHandler)
	router.Get("/datasets/{id}", a.getHandler)
	router.Delete("/datasets/{id}", a.deleteHandler)
	router.Post("/datasets/{id}/predictions", a.predictionsHandler)
}

// IngestRequest describes one single-split ingestion.
type IngestRequest struct {
	AnnotationPath string `json:"annotation_path" validate:"required"`
	ImageDir       string `json:"image_dir"`
	// DatasetName defaults to the annotation file's stem.
	DatasetName string `json:"dataset_name"`
	// Format defaults to coco.
	Format types.Format `json:"format"`
	Split  string       `json:"split"`
}

// ingestHandler runs one ingestion in the request goroutine, streaming each
// progress event as it happens.
func (a datasetsApi) ingestHandler(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()
	datasetID := uuid.NewString()

	sw := newSSEWriter(w)
	emitted := false
	err := a.ingester.Ingest(ctx, ingest.Request{
		AnnotationPath: req.AnnotationPath,
		ImageDir:       req.ImageDir,
		DatasetName:    req.DatasetName,
		Format:         req.Format,
		Split:          req.Split,
		DatasetID:      datasetID,
	}, func(ev ingest.Event) {
		emitted = true
		sw.Send(ev)
	})
	if err != nil {
		if !emitted {
			reportError(w, err)
			return
		}
		sw.Send(ingest.Event{Stage: ingest.StageError, Message: apperror.Message(err)})
		return
	}
	broadcast(ctx, a.events, eventstream.DatasetCreated, datasetID)
	broadcast(ctx, a.events, eventstream.IngestComplete, datasetID)
}

// DatasetListResponse wraps the dataset listing.
type DatasetListResponse struct {
	Datasets []types.Dataset `json:"datasets"`
}

func (a datasetsApi) listHandler(w http.ResponseWriter, r *http.Request) {
	list, err := a.datasets.List(r.Context())
	if err != nil {
		reportError(w, err)
		return
	}
	if list == nil {
		list = []types.Dataset{}
	}
	sendJSONResponse(w, DatasetListResponse{Datasets: list})
}

func (a datasetsApi) getHandler(w http.ResponseWriter, r *http.Request) {
	d, err := a.datasets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, d)
}

// deleteHandler removes the dataset and everything derived from it. Row
// deletion is transactional; cache and index cleanup afterwards is
// best-effort because the rows are already gone.
func (a datasetsApi) deleteHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	// Sample ids must be collected before the cascade deletes them.
	all, err := a.samples.ListAll(ctx, id)
	if err != nil {
		reportError(w, err)
		return
	}
	if err := a.datasets.Delete(ctx, id); err != nil {
		reportError(w, err)
		return
	}

	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
	}
	a.thumbs.DeleteThumbnails(ids)
	if err := a.index.Invalidate(ctx, id); err != nil {
		sklog.Warningf("Failed to invalidate vector collection for dataset %s: %s", id, err)
	}
	a.nearDup.InvalidateResults(id)
	broadcast(ctx, a.events, eventstream.DatasetDeleted, id)
	w.WriteHeader(http.StatusNoContent)
}

// PredictionImportRequest loads one prediction run from disk.
type PredictionImportRequest struct {
	PredictionPath string `json:"prediction_path" validate:"required"`
	Format         string `json:"format" validate:"omitempty,oneof=coco detection_annotation classification_jsonl"`
	// RunName is derived from the file when empty.
	RunName string `json:"run_name"`
}

func (a datasetsApi) predictionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req PredictionImportRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	if _, err := a.datasets.Get(ctx, id); err != nil {
		reportError(w, err)
		return
	}

	res, err := a.ingester.ImportPredictions(ctx, ingest.PredictionRequest{
		DatasetID:      id,
		PredictionPath: req.PredictionPath,
		Format:         req.Format,
		RunName:        req.RunName,
	})
	if err != nil {
		reportError(w, err)
		return
	}
	broadcast(ctx, a.events, eventstream.PredictionsAdded, id)
	sendJSONResponse(w, res)
}
