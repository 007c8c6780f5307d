package web

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/eventstream"
	"github.com/visionlens/visionlens/go/ingest"
	"github.com/visionlens/visionlens/go/scanner"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
)

// ingestionApi serves folder scanning, multi-split import and directory
// browsing for the import wizard.
type ingestionApi struct {
	scanner  *scanner.Scanner
	ingester *ingest.Ingester
	files    *storage.Client
	events   eventstream.Server
}

func newIngestionApi(sc *scanner.Scanner, ing *ingest.Ingester, files *storage.Client, events eventstream.Server) ingestionApi {
	return ingestionApi{scanner: sc, ingester: ing, files: files, events: events}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a ingestionApi) RegisterHandlers(router *chi.Mux) {
	router.Post("/ingestion/scan", a.scanHandler)
	router.Post("/ingestion/import", a.importHandler)
	router.Post("/ingestion/browse", a.browseHandler)
}

// ScanRequest names the directory to probe for importable datasets.
type ScanRequest struct {
	RootPath string `json:"root_path" validate:"required"`
}

func (a ingestionApi) scanHandler(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()

	exists, err := a.files.Exists(ctx, req.RootPath)
	if err != nil {
		reportError(w, err)
		return
	}
	if !exists {
		reportError(w, apperror.New(apperror.BadInput,
			"Directory not found. If running in Docker, ensure the directory is volume-mounted."))
		return
	}

	result, err := a.scanner.Scan(ctx, req.RootPath)
	if err != nil {
		reportError(w, err)
		return
	}
	if len(result.Splits) == 0 {
		reportError(w, apperror.New(apperror.NotFound, "No COCO datasets detected in this directory"))
		return
	}
	sendJSONResponse(w, result)
}

// ImportRequest imports several detected splits as one dataset.
type ImportRequest struct {
	DatasetName string         `json:"dataset_name" validate:"required"`
	Splits      []ingest.Split `json:"splits" validate:"required,min=1"`
	// Format defaults to coco.
	Format types.Format `json:"format"`
}

// importHandler streams ingestion progress for a multi-split import. Every
// event carries the split currently being processed.
func (a ingestionApi) importHandler(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	format := req.Format
	if format == "" {
		format = types.FormatCOCO
	}
	ctx := r.Context()

	sw := newSSEWriter(w)
	emitted := false
	id, err := a.ingester.IngestSplits(ctx, req.DatasetName, format, req.Splits, func(ev ingest.Event) {
		emitted = true
		sw.Send(ev)
	})
	if err != nil {
		// Once the stream has started the status line is gone; a terminal
		// error event is the only way to tell the client.
		if !emitted {
			reportError(w, err)
			return
		}
		sw.Send(ingest.Event{Stage: ingest.StageError, Message: apperror.Message(err)})
		return
	}
	if len(req.Splits) > 0 {
		broadcast(ctx, a.events, eventstream.DatasetCreated, id)
		broadcast(ctx, a.events, eventstream.IngestComplete, id)
	}
}

// BrowseRequest names the directory to list.
type BrowseRequest struct {
	Path string `json:"path" validate:"required"`
}

// BrowseEntry is one listing row. Size is null for directories.
type BrowseEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size"`
}

// BrowseResponse lists the directories and annotation files under a path.
type BrowseResponse struct {
	Path    string        `json:"path"`
	Entries []BrowseEntry `json:"entries"`
}

// browseHandler lists one directory level for the import wizard's file
// picker. Only directories and .json files show up, directories first.
func (a ingestionApi) browseHandler(w http.ResponseWriter, r *http.Request) {
	var req BrowseRequest
	if err := parseJSON(r, &req); err != nil {
		reportError(w, err)
		return
	}
	ctx := r.Context()

	isDir, err := a.files.IsDir(ctx, req.Path)
	if err != nil {
		reportError(w, err)
		return
	}
	if !isDir {
		reportError(w, apperror.New(apperror.BadInput, "Path is not a directory: %s", req.Path))
		return
	}
	entries, err := a.files.ListDir(ctx, req.Path)
	if err != nil {
		reportError(w, err)
		return
	}

	out := make([]BrowseEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			out = append(out, BrowseEntry{Name: e.Name, Type: "directory"})
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name), ".json") {
			size := e.Size
			out = append(out, BrowseEntry{Name: e.Name, Type: "file", Size: &size})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == "directory"
		}
		return out[i].Name < out[j].Name
	})
	sendJSONResponse(w, BrowseResponse{Path: req.Path, Entries: out})
}
