// Package web is the JSON API of the service.
//
// Each concern registers its own routes on the shared chi router through a
// small api struct holding just the collaborators it needs; Handlers wires
// them all together. Errors cross the boundary as apperror kinds and are
// mapped to status codes in one place.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/eventstream"
	"github.com/visionlens/visionlens/go/httputils"
	"github.com/visionlens/visionlens/go/imaging"
	"github.com/visionlens/visionlens/go/ingest"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/scanner"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/tasks"
	"github.com/visionlens/visionlens/go/triage"
	"github.com/visionlens/visionlens/go/vecstore"
	"github.com/visionlens/visionlens/go/views"
)

// defaultProgressPollInterval is the cadence of the task progress streams.
const defaultProgressPollInterval = 500 * time.Millisecond

// apiGroup is one set of routes sharing collaborators.
type apiGroup interface {
	RegisterHandlers(router *chi.Mux)
}

// Handlers holds every collaborator of the JSON API and assembles the
// service router. Optional capabilities (EmbedWorker, AutoTag) may be nil;
// their endpoints then answer 503.
type Handlers struct {
	Datasets    datasets.Store
	Samples     samples.Store
	Annotations annotations.Store
	Views       views.Store
	Embeddings  embeddings.Store
	Overrides   triage.Store

	Files      *storage.Client
	Thumbnails *imaging.Service
	Scanner    *scanner.Scanner
	Ingester   *ingest.Ingester
	Index      vecstore.Store

	Engine       *tasks.Engine
	EmbedWorker  *tasks.EmbedWorker
	ReduceWorker *tasks.ReduceWorker
	NearDup      *tasks.NearDuplicateWorker
	AutoTag      *tasks.AutoTagWorker

	Events eventstream.Server

	// ProgressPollInterval overrides the progress stream cadence. Zero
	// means the half-second default; tests shrink it.
	ProgressPollInterval time.Duration
}

// Router assembles the chi router with every API group registered. The
// context bounds the lifetime of event stream client connections.
func (h *Handlers) Router(ctx context.Context) *chi.Mux {
	poll := h.ProgressPollInterval
	if poll <= 0 {
		poll = defaultProgressPollInterval
	}

	router := chi.NewRouter()
	groups := []apiGroup{
		newIngestionApi(h.Scanner, h.Ingester, h.Files, h.Events),
		newDatasetsApi(h.Datasets, h.Samples, h.Ingester, h.Thumbnails, h.Index, h.NearDup, h.Events),
		newStatisticsApi(h.Datasets, h.Samples, h.Annotations),
		newEvaluationApi(h.Datasets, h.Annotations),
		newSamplesApi(h.Datasets, h.Samples, h.Annotations),
		newAnnotationsApi(h.Annotations, h.Events),
		newViewsApi(h.Views),
		newImagesApi(h.Datasets, h.Samples, h.Files, h.Thumbnails),
		newTriageApi(h.Datasets, h.Samples, h.Annotations, h.Overrides),
		newEmbeddingsApi(h.Datasets, h.Embeddings, h.Engine, h.EmbedWorker, h.ReduceWorker, poll),
		newSimilarityApi(h.Datasets, h.Samples, h.Embeddings, h.Index, h.Engine, h.NearDup, poll),
		newVLMApi(h.Datasets, h.Engine, h.AutoTag, poll),
	}
	for _, g := range groups {
		g.RegisterHandlers(router)
	}

	router.Get("/health", healthHandler)
	router.Get("/healthz", httputils.ReadyHandleFunc)
	if h.Events != nil {
		router.Get("/events", h.Events.ClientConnectionHandler(ctx))
	}
	return router
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	sendJSONResponse(w, map[string]string{"status": "ok"})
}
