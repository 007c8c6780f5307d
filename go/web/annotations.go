package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/eventstream"
	"github.com/visionlens/visionlens/go/types"
)

// annotationsApi hosts manual ground-truth editing. Predictions are imported
// in bulk and never edited here.
type annotationsApi struct {
	annotations annotations.Store
	events      eventstream.Server
}

func newAnnotationsApi(as annotations.Store, events eventstream.Server) annotationsApi {
	return annotationsApi{annotations: as, events: events}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a annotationsApi) RegisterHandlers(router *chi.Mux) {
	router.Post("/annotations", a.createHandler)
	router.Put("/annotations/{id}", a.updateHandler)
	router.Delete("/annotations/{id}", a.deleteHandler)
}

// CreateAnnotationRequest draws one new ground-truth box.
type CreateAnnotationRequest struct {
	DatasetID    string  `json:"dataset_id" validate:"required"`
	SampleID     string  `json:"sample_id" validate:"required"`
	CategoryName string  `json:"category_name" validate:"required"`
	BboxX        float64 `json:"bbox_x"`
	BboxY        float64 `json:"bbox_y"`
	BboxW        float64 `json:"bbox_w" validate:"gte=0"`
	BboxH        float64 `json:"bbox_h" validate:"gte=0"`
}

func (a annotationsApi) createHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateAnnotationRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	ann := types.Annotation{
		DatasetID:    req.DatasetID,
		ID:           uuid.NewString(),
		SampleID:     req.SampleID,
		CategoryName: req.CategoryName,
		BboxX:        req.BboxX,
		BboxY:        req.BboxY,
		BboxW:        req.BboxW,
		BboxH:        req.BboxH,
		Area:         req.BboxW * req.BboxH,
		Source:       types.GroundTruth,
	}
	if err := a.annotations.Create(r.Context(), ann); err != nil {
		reportError(w, err)
		return
	}
	broadcast(r.Context(), a.events, eventstream.DatasetUpdated, req.DatasetID)
	sendJSONResponseWithCode(w, map[string]string{"id": ann.ID}, http.StatusCreated)
}

// UpdateAnnotationRequest moves or relabels an existing ground-truth box. An
// empty category keeps the current one.
type UpdateAnnotationRequest struct {
	DatasetID    string  `json:"dataset_id" validate:"required"`
	CategoryName string  `json:"category_name"`
	BboxX        float64 `json:"bbox_x"`
	BboxY        float64 `json:"bbox_y"`
	BboxW        float64 `json:"bbox_w" validate:"gte=0"`
	BboxH        float64 `json:"bbox_h" validate:"gte=0"`
}

func (a annotationsApi) updateHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateAnnotationRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()
	annotationID := chi.URLParam(r, "id")

	category := req.CategoryName
	if category == "" {
		existing, err := a.annotations.Get(ctx, req.DatasetID, annotationID)
		if err != nil {
			reportError(w, err)
			return
		}
		category = existing.CategoryName
	}
	ann := types.Annotation{
		DatasetID:    req.DatasetID,
		ID:           annotationID,
		CategoryName: category,
		BboxX:        req.BboxX,
		BboxY:        req.BboxY,
		BboxW:        req.BboxW,
		BboxH:        req.BboxH,
		Area:         req.BboxW * req.BboxH,
	}
	if err := a.annotations.Update(ctx, ann); err != nil {
		reportError(w, err)
		return
	}
	broadcast(ctx, a.events, eventstream.DatasetUpdated, req.DatasetID)
	sendJSONResponse(w, map[string]string{"updated": annotationID})
}

func (a annotationsApi) deleteHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	annotationID := chi.URLParam(r, "id")
	if err := a.annotations.Delete(r.Context(), datasetID, annotationID); err != nil {
		reportError(w, err)
		return
	}
	broadcast(r.Context(), a.events, eventstream.DatasetUpdated, datasetID)
	w.WriteHeader(http.StatusNoContent)
}
