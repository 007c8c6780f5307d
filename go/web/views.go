package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/visionlens/visionlens/go/now"
	"github.com/visionlens/visionlens/go/types"
	"github.com/visionlens/visionlens/go/views"
)

// viewsApi persists named filter combinations. The filter blob round-trips
// untouched; only the frontend interprets it.
type viewsApi struct {
	views views.Store
}

func newViewsApi(vs views.Store) viewsApi {
	return viewsApi{views: vs}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a viewsApi) RegisterHandlers(router *chi.Mux) {
	router.Post("/views", a.createHandler)
	router.Get("/views", a.listHandler)
	router.Delete("/views/{id}", a.deleteHandler)
}

// CreateViewRequest saves the current filter state under a name.
type CreateViewRequest struct {
	DatasetID string          `json:"dataset_id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Filters   json.RawMessage `json:"filters"`
}

func (a viewsApi) createHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateViewRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()
	ts := now.Now(ctx)
	v := types.SavedView{
		ID:        uuid.NewString(),
		DatasetID: req.DatasetID,
		Name:      req.Name,
		Filters:   req.Filters,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := a.views.Create(ctx, v); err != nil {
		reportError(w, err)
		return
	}
	sendJSONResponseWithCode(w, v, http.StatusCreated)
}

// ViewListResponse wraps the view list.
type ViewListResponse struct {
	Views []types.SavedView `json:"views"`
}

func (a viewsApi) listHandler(w http.ResponseWriter, r *http.Request) {
	datasetID, err := requiredParam(r, "dataset_id")
	if err != nil {
		reportError(w, err)
		return
	}
	list, err := a.views.List(r.Context(), datasetID)
	if err != nil {
		reportError(w, err)
		return
	}
	if list == nil {
		list = []types.SavedView{}
	}
	sendJSONResponse(w, ViewListResponse{Views: list})
}

func (a viewsApi) deleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.views.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		reportError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
