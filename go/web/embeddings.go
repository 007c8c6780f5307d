package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/reduce"
	"github.com/visionlens/visionlens/go/tasks"
)

// embeddingsApi launches embedding generation and 2-D reduction and serves
// their results. Both tasks run in the background; clients follow along on
// the progress streams.
type embeddingsApi struct {
	datasets     datasets.Store
	embeddings   embeddings.Store
	engine       *tasks.Engine
	embedWorker  *tasks.EmbedWorker
	reduceWorker *tasks.ReduceWorker
	poll         time.Duration
}

func newEmbeddingsApi(ds datasets.Store, es embeddings.Store, engine *tasks.Engine, embed *tasks.EmbedWorker, red *tasks.ReduceWorker, poll time.Duration) embeddingsApi {
	return embeddingsApi{
		datasets:     ds,
		embeddings:   es,
		engine:       engine,
		embedWorker:  embed,
		reduceWorker: red,
		poll:         poll,
	}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a embeddingsApi) RegisterHandlers(router *chi.Mux) {
	router.Post("/datasets/{id}/embeddings/generate", a.generateHandler)
	router.Get("/datasets/{id}/embeddings/progress", a.progressHandler)
	router.Get("/datasets/{id}/embeddings/status", a.statusHandler)
	router.Post("/datasets/{id}/embeddings/reduce", a.reduceHandler)
	router.Get("/datasets/{id}/embeddings/reduce/progress", a.reduceProgressHandler)
	router.Get("/datasets/{id}/embeddings/coordinates", a.coordinatesHandler)
}

// TaskStartedResponse acknowledges an accepted background task.
type TaskStartedResponse struct {
	DatasetID string `json:"dataset_id,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (a embeddingsApi) generateHandler(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "id")
	// Conflict wins over NotFound, so a retry storm on a busy dataset
	// never hits the store.
	if a.engine.IsRunning(datasetID, tasks.TypeEmbed) {
		reportError(w, tasks.AlreadyRunningError(datasetID, tasks.TypeEmbed))
		return
	}
	if _, err := a.datasets.Get(r.Context(), datasetID); err != nil {
		reportError(w, err)
		return
	}
	if a.embedWorker == nil {
		reportError(w, apperror.New(apperror.CapabilityUnavailable, "Embedding generation is not configured. Set the embedder endpoint and restart."))
		return
	}
	if err := a.engine.Launch(datasetID, tasks.TypeEmbed, a.embedWorker.Run(datasetID)); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponseWithCode(w, TaskStartedResponse{
		DatasetID: datasetID,
		Status:    "started",
		Message:   "Embedding generation started",
	}, http.StatusAccepted)
}

func (a embeddingsApi) progressHandler(w http.ResponseWriter, r *http.Request) {
	streamTaskProgress(w, r, a.engine, chi.URLParam(r, "id"), tasks.TypeEmbed, a.poll)
}

func (a embeddingsApi) statusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := a.embeddings.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, status)
}

func (a embeddingsApi) reduceHandler(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "id")
	if a.engine.IsRunning(datasetID, tasks.TypeReduce) {
		reportError(w, tasks.AlreadyRunningError(datasetID, tasks.TypeReduce))
		return
	}
	status, err := a.embeddings.GetStatus(r.Context(), datasetID)
	if err != nil {
		reportError(w, err)
		return
	}
	if !status.HasEmbeddings {
		reportError(w, apperror.New(apperror.BadInput, "No embeddings found. Generate embeddings first."))
		return
	}
	if err := a.engine.Launch(datasetID, tasks.TypeReduce, a.reduceWorker.Run(datasetID, reduce.Params{})); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponseWithCode(w, TaskStartedResponse{
		Status:  "started",
		Message: "Dimensionality reduction started",
	}, http.StatusAccepted)
}

func (a embeddingsApi) reduceProgressHandler(w http.ResponseWriter, r *http.Request) {
	streamTaskProgress(w, r, a.engine, chi.URLParam(r, "id"), tasks.TypeReduce, a.poll)
}

// coordinatesHandler returns the scatter-plot points as a bare array. An
// unreduced dataset yields [], not a 404.
func (a embeddingsApi) coordinatesHandler(w http.ResponseWriter, r *http.Request) {
	points, err := a.embeddings.Coordinates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		reportError(w, err)
		return
	}
	if points == nil {
		points = []embeddings.Point{}
	}
	sendJSONResponse(w, points)
}
