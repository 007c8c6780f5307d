package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/tasks"
)

// vlmApi launches the vision-language auto-tagging task.
type vlmApi struct {
	datasets datasets.Store
	engine   *tasks.Engine
	autoTag  *tasks.AutoTagWorker
	poll     time.Duration
}

func newVLMApi(ds datasets.Store, engine *tasks.Engine, autoTag *tasks.AutoTagWorker, poll time.Duration) vlmApi {
	return vlmApi{datasets: ds, engine: engine, autoTag: autoTag, poll: poll}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a vlmApi) RegisterHandlers(router *chi.Mux) {
	router.Post("/datasets/{id}/auto-tag", a.autoTagHandler)
	router.Get("/datasets/{id}/auto-tag/progress", a.progressHandler)
}

func (a vlmApi) autoTagHandler(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "id")
	if a.engine.IsRunning(datasetID, tasks.TypeAutoTag) {
		reportError(w, tasks.AlreadyRunningError(datasetID, tasks.TypeAutoTag))
		return
	}
	if _, err := a.datasets.Get(r.Context(), datasetID); err != nil {
		reportError(w, err)
		return
	}
	if a.autoTag == nil {
		reportError(w, apperror.New(apperror.CapabilityUnavailable, "Auto-tagging is not configured. Set the VLM endpoint and restart."))
		return
	}
	if err := a.engine.Launch(datasetID, tasks.TypeAutoTag, a.autoTag.Run(datasetID)); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponseWithCode(w, TaskStartedResponse{
		Status:  "started",
		Message: "Auto-tagging started",
	}, http.StatusAccepted)
}

func (a vlmApi) progressHandler(w http.ResponseWriter, r *http.Request) {
	streamTaskProgress(w, r, a.engine, chi.URLParam(r, "id"), tasks.TypeAutoTag, a.poll)
}
