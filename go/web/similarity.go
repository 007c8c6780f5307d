package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/tasks"
	"github.com/visionlens/visionlens/go/types"
	"github.com/visionlens/visionlens/go/vecstore"
)

// similarityApi serves k-NN lookups against the vector index and runs the
// near-duplicate detector.
type similarityApi struct {
	datasets   datasets.Store
	samples    samples.Store
	embeddings embeddings.Store
	index      vecstore.Store
	engine     *tasks.Engine
	nearDup    *tasks.NearDuplicateWorker
	poll       time.Duration
}

func newSimilarityApi(ds datasets.Store, ss samples.Store, es embeddings.Store, index vecstore.Store, engine *tasks.Engine, nearDup *tasks.NearDuplicateWorker, poll time.Duration) similarityApi {
	return similarityApi{
		datasets:   ds,
		samples:    ss,
		embeddings: es,
		index:      index,
		engine:     engine,
		nearDup:    nearDup,
		poll:       poll,
	}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a similarityApi) RegisterHandlers(router *chi.Mux) {
	router.Get("/datasets/{id}/similarity/search", a.searchHandler)
	router.Post("/datasets/{id}/similarity/near-duplicates/detect", a.detectHandler)
	router.Get("/datasets/{id}/similarity/near-duplicates/progress", a.detectProgressHandler)
	router.Get("/datasets/{id}/similarity/near-duplicates", a.resultsHandler)
}

// SimilarResult is one neighbour, enriched with sample metadata for direct
// display.
type SimilarResult struct {
	SampleID      string  `json:"sample_id"`
	Score         float64 `json:"score"`
	FileName      string  `json:"file_name,omitempty"`
	ThumbnailPath string  `json:"thumbnail_path,omitempty"`
}

// SimilarityResponse ranks neighbours by descending cosine similarity.
type SimilarityResponse struct {
	Results       []SimilarResult `json:"results"`
	QuerySampleID string          `json:"query_sample_id"`
}

// searchHandler finds the visually nearest samples. A dataset without
// embeddings, or a query sample without one, yields empty results rather
// than an error.
func (a similarityApi) searchHandler(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "id")
	sampleID, err := requiredParam(r, "sample_id")
	if err != nil {
		reportError(w, err)
		return
	}
	limit, err := intParam(r, "limit", 20, 1, 100)
	if err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()

	if _, err := a.datasets.Get(ctx, datasetID); err != nil {
		reportError(w, err)
		return
	}
	empty := SimilarityResponse{Results: []SimilarResult{}, QuerySampleID: sampleID}
	status, err := a.embeddings.GetStatus(ctx, datasetID)
	if err != nil {
		reportError(w, err)
		return
	}
	if !status.HasEmbeddings {
		sendJSONResponse(w, empty)
		return
	}

	points, err := a.index.Points(ctx, datasetID)
	if err != nil {
		reportError(w, err)
		return
	}
	var query []float32
	for _, p := range points {
		if p.SampleID == sampleID {
			query = p.Vector
			break
		}
	}
	if query == nil {
		sendJSONResponse(w, empty)
		return
	}

	// The query point is its own best match, so ask for one extra.
	neighbors, err := a.index.Query(ctx, datasetID, query, limit+1, vecstore.NoMinScore)
	if err != nil {
		reportError(w, err)
		return
	}
	results := make([]SimilarResult, 0, limit)
	ids := make([]string, 0, limit)
	for _, n := range neighbors {
		if n.SampleID == sampleID {
			continue
		}
		if len(results) == limit {
			break
		}
		results = append(results, SimilarResult{SampleID: n.SampleID, Score: n.Score})
		ids = append(ids, n.SampleID)
	}

	enriched, err := a.samples.GetMany(ctx, datasetID, ids)
	if err != nil {
		reportError(w, err)
		return
	}
	meta := make(map[string]types.Sample, len(enriched))
	for _, s := range enriched {
		meta[s.ID] = s
	}
	for i := range results {
		if m, ok := meta[results[i].SampleID]; ok {
			results[i].FileName = m.FileName
			results[i].ThumbnailPath = m.ThumbnailPath
		}
	}
	sendJSONResponse(w, SimilarityResponse{Results: results, QuerySampleID: sampleID})
}

func (a similarityApi) detectHandler(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "id")
	threshold, err := floatParam(r, "threshold", tasks.DefaultNearDuplicateThreshold, 0.80, 0.99)
	if err != nil {
		reportError(w, err)
		return
	}
	if a.engine.IsRunning(datasetID, tasks.TypeNearDuplicate) {
		reportError(w, tasks.AlreadyRunningError(datasetID, tasks.TypeNearDuplicate))
		return
	}
	if _, err := a.datasets.Get(r.Context(), datasetID); err != nil {
		reportError(w, err)
		return
	}
	if err := a.engine.Launch(datasetID, tasks.TypeNearDuplicate, a.nearDup.Run(datasetID, threshold)); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponseWithCode(w, TaskStartedResponse{
		Status:  "started",
		Message: "Near-duplicate detection started",
	}, http.StatusAccepted)
}

func (a similarityApi) detectProgressHandler(w http.ResponseWriter, r *http.Request) {
	streamTaskProgress(w, r, a.engine, chi.URLParam(r, "id"), tasks.TypeNearDuplicate, a.poll)
}

func (a similarityApi) resultsHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := a.nearDup.Results(chi.URLParam(r, "id"))
	if !ok {
		reportError(w, apperror.New(apperror.NotFound, "No near-duplicate results. Run detection first."))
		return
	}
	sendJSONResponse(w, result)
}
