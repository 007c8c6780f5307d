package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/eval"
	"github.com/visionlens/visionlens/go/types"
)

// Evaluation operating-point defaults. The thresholds bound the greedy
// matcher; the ranges mirror what the frontend sliders allow.
const (
	defaultEvalSource = "prediction"
	defaultIoU        = 0.5
	defaultConfidence = 0.25
	defaultTriageIoU  = 0.45
	minIoUThreshold   = 0.1
	maxIoUThreshold   = 1.0
	minConfThreshold  = 0.0
	maxConfThreshold  = 1.0
)

// evalParams is the operating point shared by the evaluation, confusion
// and error-analysis endpoints.
type evalParams struct {
	source string
	iou    float64
	conf   float64
	split  string
}

func parseEvalParams(r *http.Request) (evalParams, error) {
	p := evalParams{
		source: defaultEvalSource,
		split:  r.URL.Query().Get("split"),
	}
	if s := r.URL.Query().Get("source"); s != "" {
		p.source = s
	}
	var err error
	if p.iou, err = floatParam(r, "iou_threshold", defaultIoU, minIoUThreshold, maxIoUThreshold); err != nil {
		return p, err
	}
	if p.conf, err = floatParam(r, "conf_threshold", defaultConfidence, minConfThreshold, maxConfThreshold); err != nil {
		return p, err
	}
	return p, nil
}

// evaluationApi serves the evaluation dashboard: metrics, confusion cell
// drill-down and error categorisation.
type evaluationApi struct {
	datasets    datasets.Store
	annotations annotations.Store
}

func newEvaluationApi(ds datasets.Store, as annotations.Store) evaluationApi {
	return evaluationApi{datasets: ds, annotations: as}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a evaluationApi) RegisterHandlers(router *chi.Mux) {
	router.Get("/datasets/{id}/evaluation", a.evaluationHandler)
	router.Get("/datasets/{id}/confusion-cell-samples", a.confusionCellHandler)
	router.Get("/datasets/{id}/error-analysis", a.errorAnalysisHandler)
}

// load fetches the dataset plus the ground truth and the requested run,
// optionally narrowed to one split.
func (a evaluationApi) load(r *http.Request, p evalParams) (types.Dataset, []types.Annotation, []types.Annotation, error) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	d, err := a.datasets.Get(ctx, id)
	if err != nil {
		return types.Dataset{}, nil, nil, err
	}
	gt, err := a.annotations.ListBySource(ctx, id, types.GroundTruth, p.split)
	if err != nil {
		return types.Dataset{}, nil, nil, err
	}
	preds, err := a.annotations.ListBySource(ctx, id, p.source, p.split)
	if err != nil {
		return types.Dataset{}, nil, nil, err
	}
	return d, gt, preds, nil
}

// evaluationHandler computes the full evaluation for one prediction run at
// the requested operating point. Classification datasets get accuracy and
// a label confusion matrix instead of the detection metrics.
func (a evaluationApi) evaluationHandler(w http.ResponseWriter, r *http.Request) {
	p, err := parseEvalParams(r)
	if err != nil {
		reportError(w, err)
		return
	}
	d, gt, preds, err := a.load(r, p)
	if err != nil {
		reportError(w, err)
		return
	}

	if d.Type == types.ClassificationDataset {
		sendJSONResponse(w, eval.EvaluateClassification(gt, preds, p.conf))
		return
	}
	sampleDets, classNames := eval.GroupBySample(gt, preds)
	sendJSONResponse(w, eval.Evaluate(sampleDets, classNames, eval.Options{
		IoUThreshold:  p.iou,
		ConfThreshold: p.conf,
	}))
}

// ConfusionCellResponse lists the samples behind one confusion matrix cell.
type ConfusionCellResponse struct {
	SampleIDs []string `json:"sample_ids"`
}

func (a evaluationApi) confusionCellHandler(w http.ResponseWriter, r *http.Request) {
	actual, err := requiredParam(r, "actual_class")
	if err != nil {
		reportError(w, err)
		return
	}
	predicted, err := requiredParam(r, "predicted_class")
	if err != nil {
		reportError(w, err)
		return
	}
	p, err := parseEvalParams(r)
	if err != nil {
		reportError(w, err)
		return
	}
	d, gt, preds, err := a.load(r, p)
	if err != nil {
		reportError(w, err)
		return
	}

	var ids []string
	if d.Type == types.ClassificationDataset {
		ids = eval.ClassificationConfusionCellSamples(gt, preds, actual, predicted, p.conf)
	} else {
		sampleDets, _ := eval.GroupBySample(gt, preds)
		ids = eval.ConfusionCellSamples(sampleDets, actual, predicted, eval.Options{
			IoUThreshold:  p.iou,
			ConfThreshold: p.conf,
		})
	}
	if ids == nil {
		ids = []string{}
	}
	sendJSONResponse(w, ConfusionCellResponse{SampleIDs: ids})
}

// errorAnalysisHandler categorises every prediction and missed ground
// truth of a detection run. Classification datasets have no box errors to
// categorise.
func (a evaluationApi) errorAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	p, err := parseEvalParams(r)
	if err != nil {
		reportError(w, err)
		return
	}
	d, gt, preds, err := a.load(r, p)
	if err != nil {
		reportError(w, err)
		return
	}
	if d.Type == types.ClassificationDataset {
		reportError(w, apperror.New(apperror.BadInput, "Error analysis requires a detection dataset"))
		return
	}
	sampleDets, _ := eval.GroupBySample(gt, preds)
	sendJSONResponse(w, eval.CategorizeErrors(sampleDets, p.iou, p.conf))
}
