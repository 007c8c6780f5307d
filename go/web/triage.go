package web

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/eval"
	"github.com/visionlens/visionlens/go/now"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/triage"
	"github.com/visionlens/visionlens/go/types"
)

// triageApi ranks samples worth reviewing and records the reviewer's
// verdicts, both per sample and per annotation.
type triageApi struct {
	datasets    datasets.Store
	samples     samples.Store
	annotations annotations.Store
	overrides   triage.Store
}

func newTriageApi(ds datasets.Store, ss samples.Store, as annotations.Store, os triage.Store) triageApi {
	return triageApi{datasets: ds, samples: ss, annotations: as, overrides: os}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a triageApi) RegisterHandlers(router *chi.Mux) {
	router.Get("/datasets/{id}/worst-images", a.worstImagesHandler)
	router.Patch("/samples/set-triage-tag", a.setTriageTagHandler)
	router.Delete("/samples/{id}/triage-tag", a.clearTriageTagHandler)
	router.Get("/samples/{id}/annotation-triage", a.annotationTriageHandler)
	router.Patch("/samples/set-annotation-triage", a.setAnnotationTriageHandler)
	router.Delete("/samples/{id}/annotation-triage/{annotationID}", a.clearAnnotationTriageHandler)
}

// WorstImagesResponse ranks samples by composite error score, worst first.
type WorstImagesResponse struct {
	Items []triage.TriageScore `json:"items"`
}

func (a triageApi) worstImagesHandler(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "id")
	source := r.URL.Query().Get("source")
	if source == "" {
		source = defaultEvalSource
	}
	split := r.URL.Query().Get("split")
	iou, err := floatParam(r, "iou_threshold", defaultIoU, minIoUThreshold, maxIoUThreshold)
	if err != nil {
		reportError(w, err)
		return
	}
	conf, err := floatParam(r, "conf_threshold", defaultConfidence, minConfThreshold, maxConfThreshold)
	if err != nil {
		reportError(w, err)
		return
	}
	limit, err := intParam(r, "limit", triage.DefaultWorstImagesLimit, 1, 200)
	if err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()

	if _, err := a.datasets.Get(ctx, datasetID); err != nil {
		reportError(w, err)
		return
	}
	gt, err := a.annotations.ListBySource(ctx, datasetID, types.GroundTruth, split)
	if err != nil {
		reportError(w, err)
		return
	}
	preds, err := a.annotations.ListBySource(ctx, datasetID, source, split)
	if err != nil {
		reportError(w, err)
		return
	}

	grouped, _ := eval.GroupBySample(gt, preds)
	items := triage.WorstImages(grouped, iou, conf, limit)
	if items == nil {
		items = []triage.TriageScore{}
	}
	sendJSONResponse(w, WorstImagesResponse{Items: items})
}

// SetTriageTagRequest marks a whole sample with one triage tag.
type SetTriageTagRequest struct {
	DatasetID string `json:"dataset_id" validate:"required"`
	SampleID  string `json:"sample_id" validate:"required"`
	Tag       string `json:"tag"`
}

func (a triageApi) setTriageTagHandler(w http.ResponseWriter, r *http.Request) {
	var req SetTriageTagRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	if !types.ValidTriageTag(req.Tag) {
		allowed := append([]string(nil), types.TriageTagValues...)
		sort.Strings(allowed)
		reportError(w, apperror.New(apperror.BadInput, "Invalid triage tag '%s'. Must be one of: %s", req.Tag, strings.Join(allowed, ", ")))
		return
	}
	if err := a.samples.SetTriageTag(r.Context(), req.DatasetID, req.SampleID, req.Tag); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, map[string]string{"sample_id": req.SampleID, "tag": req.Tag})
}

func (a triageApi) clearTriageTagHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	sampleID := chi.URLParam(r, "id")
	if err := a.samples.RemoveTriageTags(r.Context(), datasetID, sampleID); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, map[string]interface{}{"sample_id": sampleID, "cleared": true})
}

// AnnotationTriageResponse is the per-annotation overlay for one sample.
type AnnotationTriageResponse struct {
	Items []triage.AnnotationTriage `json:"items"`
}

func (a triageApi) annotationTriageHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = defaultEvalSource
	}
	iou, err := floatParam(r, "iou_threshold", defaultTriageIoU, minIoUThreshold, maxIoUThreshold)
	if err != nil {
		reportError(w, err)
		return
	}
	conf, err := floatParam(r, "conf_threshold", defaultConfidence, minConfThreshold, maxConfThreshold)
	if err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()
	sampleID := chi.URLParam(r, "id")

	anns, err := a.annotations.ListBySample(ctx, datasetID, sampleID, nil)
	if err != nil {
		reportError(w, err)
		return
	}
	var gt, preds []eval.Detection
	for _, ann := range anns {
		switch ann.Source {
		case types.GroundTruth:
			gt = append(gt, eval.FromAnnotation(ann))
		case source:
			preds = append(preds, eval.FromAnnotation(ann))
		}
	}

	auto := eval.MatchAnnotations(gt, preds, iou, conf)
	overrides, err := a.overrides.ListBySample(ctx, datasetID, sampleID)
	if err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, AnnotationTriageResponse{Items: triage.Overlay(auto, overrides)})
}

// SetAnnotationTriageRequest overrides the auto label of one annotation.
type SetAnnotationTriageRequest struct {
	DatasetID    string `json:"dataset_id" validate:"required"`
	SampleID     string `json:"sample_id" validate:"required"`
	AnnotationID string `json:"annotation_id" validate:"required"`
	Label        string `json:"label"`
}

func (a triageApi) setAnnotationTriageHandler(w http.ResponseWriter, r *http.Request) {
	var req SetAnnotationTriageRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	if !types.TriageLabel(req.Label).Valid() {
		allowed := []string{string(types.TriageTP), string(types.TriageFP), string(types.TriageFN), string(types.TriageMistake)}
		sort.Strings(allowed)
		reportError(w, apperror.New(apperror.BadInput, "Invalid label '%s'. Must be one of: %s", req.Label, strings.Join(allowed, ", ")))
		return
	}
	o := types.TriageOverride{
		DatasetID:    req.DatasetID,
		AnnotationID: req.AnnotationID,
		SampleID:     req.SampleID,
		Label:        types.TriageLabel(req.Label),
		CreatedAt:    now.Now(r.Context()),
	}
	if err := a.overrides.Set(r.Context(), o); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, map[string]string{"annotation_id": req.AnnotationID, "label": req.Label})
}

func (a triageApi) clearAnnotationTriageHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	sampleID := chi.URLParam(r, "id")
	annotationID := chi.URLParam(r, "annotationID")
	if err := a.overrides.Delete(r.Context(), datasetID, sampleID, annotationID); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponse(w, map[string]interface{}{"annotation_id": annotationID, "cleared": true})
}
