package web

import (
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/types"
)

// maxBatchAnnotationIDs caps the batch annotation endpoint, which exists to
// bundle the sample grid's per-cell requests.
const maxBatchAnnotationIDs = 200

// samplesApi serves the sample grid: filtered listing, facets, tagging and
// per-sample annotations.
type samplesApi struct {
	datasets    datasets.Store
	samples     samples.Store
	annotations annotations.Store
}

func newSamplesApi(ds datasets.Store, ss samples.Store, as annotations.Store) samplesApi {
	return samplesApi{datasets: ds, samples: ss, annotations: as}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a samplesApi) RegisterHandlers(router *chi.Mux) {
	router.Get("/samples", a.listHandler)
	router.Get("/samples/filter-facets", a.filterFacetsHandler)
	router.Patch("/samples/bulk-tag", a.bulkTagHandler)
	router.Patch("/samples/bulk-untag", a.bulkUntagHandler)
	router.Get("/samples/batch-annotations", a.batchAnnotationsHandler)
	router.Get("/samples/{id}/annotations", a.sampleAnnotationsHandler)
}

// PaginatedSamples is one page of the sample grid.
type PaginatedSamples struct {
	Items  []types.Sample `json:"items"`
	Total  int64          `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

func (a samplesApi) listHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	offset, err := intParam(r, "offset", 0, 0, math.MaxInt)
	if err != nil {
		reportError(w, err)
		return
	}
	limit, err := intParam(r, "limit", 50, 1, 200)
	if err != nil {
		reportError(w, err)
		return
	}
	q := r.URL.Query()
	opts := samples.SearchOptions{
		DatasetID: datasetID,
		Split:     q.Get("split"),
		Category:  q.Get("category"),
		Search:    q.Get("search"),
		Tags:      commaList(q.Get("tags")),
		SampleIDs: commaList(q.Get("sample_ids")),
		Sources:   commaList(q.Get("sources")),
		SortBy:    q.Get("sort_by"),
		SortDir:   q.Get("sort_dir"),
		Limit:     limit,
		Offset:    offset,
	}

	items, total, err := a.samples.Search(r.Context(), opts)
	if err != nil {
		reportError(w, err)
		return
	}
	if items == nil {
		items = []types.Sample{}
	}
	sendJSONResponse(w, PaginatedSamples{Items: items, Total: total, Offset: offset, Limit: limit})
}

// FilterFacets lists the distinct filterable values of a dataset, so the
// frontend can populate its dropdowns in one request.
type FilterFacets struct {
	Splits     []samples.SplitCount `json:"splits"`
	Categories []string             `json:"categories"`
	Tags       []samples.TagCount   `json:"tags"`
}

func (a samplesApi) filterFacetsHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()

	splits, err := a.samples.Splits(ctx, datasetID)
	if err != nil {
		reportError(w, err)
		return
	}
	cats, err := a.datasets.ListCategories(ctx, datasetID)
	if err != nil {
		reportError(w, err)
		return
	}
	tags, err := a.samples.TagFacets(ctx, datasetID)
	if err != nil {
		reportError(w, err)
		return
	}

	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	if splits == nil {
		splits = []samples.SplitCount{}
	}
	if tags == nil {
		tags = []samples.TagCount{}
	}
	sendJSONResponse(w, FilterFacets{Splits: splits, Categories: names, Tags: tags})
}

// BulkTagRequest adds or removes one tag on many samples.
type BulkTagRequest struct {
	DatasetID string   `json:"dataset_id" validate:"required"`
	SampleIDs []string `json:"sample_ids" validate:"required,min=1"`
	Tag       string   `json:"tag" validate:"required"`
}

// validateBulkTag rejects triage tags; they have their own endpoints that
// maintain the one-triage-tag-per-sample rule.
func validateBulkTag(req BulkTagRequest) error {
	if strings.HasPrefix(req.Tag, types.TriageTagPrefix) {
		return apperror.New(apperror.BadInput, "Triage tags must be managed via the triage endpoints")
	}
	return nil
}

func (a samplesApi) bulkTagHandler(w http.ResponseWriter, r *http.Request) {
	var req BulkTagRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	if err := validateBulkTag(req); err != nil {
		reportError(w, err)
		return
	}
	updated, err := a.samples.AddTag(r.Context(), req.DatasetID, req.SampleIDs, req.Tag)
	if err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, map[string]int64{"updated": updated})
}

func (a samplesApi) bulkUntagHandler(w http.ResponseWriter, r *http.Request) {
	var req BulkTagRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	if err := validateBulkTag(req); err != nil {
		reportError(w, err)
		return
	}
	updated, err := a.samples.RemoveTag(r.Context(), req.DatasetID, req.SampleIDs, req.Tag)
	if err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, map[string]int64{"updated": updated})
}

// BatchAnnotationsResponse groups annotations by sample id.
type BatchAnnotationsResponse struct {
	Annotations map[string][]types.Annotation `json:"annotations"`
}

// batchAnnotationsHandler returns annotations for up to 200 samples in one
// request, so the grid does not fire a request per cell.
func (a samplesApi) batchAnnotationsHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	ids := commaList(r.URL.Query().Get("sample_ids"))
	if len(ids) > maxBatchAnnotationIDs {
		reportError(w, apperror.New(apperror.BadInput, "Maximum %d sample_ids per batch request", maxBatchAnnotationIDs))
		return
	}
	if len(ids) == 0 {
		sendJSONResponse(w, BatchAnnotationsResponse{Annotations: map[string][]types.Annotation{}})
		return
	}

	grouped, err := a.annotations.ListBySamples(r.Context(), datasetID, ids, nil)
	if err != nil {
		reportError(w, err)
		return
	}
	if grouped == nil {
		grouped = map[string][]types.Annotation{}
	}
	sendJSONResponse(w, BatchAnnotationsResponse{Annotations: grouped})
}

// sampleAnnotationsHandler returns one sample's annotations, optionally
// restricted to a comma-separated source list. A sample with no matching
// annotations yields an empty list, not a 404.
func (a samplesApi) sampleAnnotationsHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()
	sampleID := chi.URLParam(r, "id")
	sources := commaList(r.URL.Query().Get("sources"))

	rows, err := a.annotations.ListBySample(ctx, datasetID, sampleID, sources)
	if err != nil {
		reportError(w, err)
		return
	}
	if len(rows) == 0 {
		// Distinguish "no annotations" from "no such sample".
		if _, err := a.samples.Get(ctx, datasetID, sampleID); err != nil {
			reportError(w, err)
			return
		}
		sendJSONResponse(w, []types.Annotation{})
		return
	}
	sendJSONResponse(w, rows)
}
