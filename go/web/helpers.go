package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/eventstream"
	"github.com/visionlens/visionlens/go/httputils"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/util"
)

const (
	contentTypeHeader = "Content-Type"
	jsonContentType   = "application/json"

	accessControlHeader = "Access-Control-Allow-Origin"
	allowAllOrigins     = "*"
)

// setJSONHeaders sets the headers for JSON responses. The API is consumed
// by a locally served frontend, hence the open CORS policy.
func setJSONHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set(accessControlHeader, allowAllOrigins)
	h.Set(contentTypeHeader, jsonContentType)
}

// sendJSONResponse serializes resp to JSON as the 200 response body.
func sendJSONResponse(w http.ResponseWriter, resp interface{}) {
	sendJSONResponseWithCode(w, resp, http.StatusOK)
}

// sendJSONResponseWithCode serializes resp to JSON with the given status
// code. Encoding failures are logged, not reported, because the header has
// already been written.
func sendJSONResponseWithCode(w http.ResponseWriter, resp interface{}, code int) {
	setJSONHeaders(w)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		sklog.Errorf("Failed to encode JSON response: %s", err)
	}
}

// requestValidator enforces the validate tags on request bodies.
var requestValidator = validator.New()

// parseJSON extracts the body from the request and parses it into the
// provided struct, mapping decode and validation failures to BadInput.
func parseJSON(r *http.Request, v interface{}) error {
	defer util.Close(r.Body)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.New(apperror.BadInput, "Invalid request body: %s", err)
	}
	if err := requestValidator.Struct(v); err != nil {
		return apperror.New(apperror.BadInput, "Invalid request body: %s", err)
	}
	return nil
}

// reportError maps err's kind onto an HTTP status code and reports it the
// standard way.
func reportError(w http.ResponseWriter, err error) {
	httputils.ReportError(w, err, apperror.Message(err), apperror.KindOf(err).HTTPStatus())
}

// floatParam reads an optional float query parameter, enforcing an
// inclusive range.
func floatParam(r *http.Request, name string, def, min, max float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperror.New(apperror.BadInput, "Invalid %s: %q", name, raw)
	}
	if v < min || v > max {
		return 0, apperror.New(apperror.BadInput, "%s must be between %v and %v", name, min, max)
	}
	return v, nil
}

// intParam reads an optional integer query parameter, enforcing an
// inclusive range.
func intParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.New(apperror.BadInput, "Invalid %s: %q", name, raw)
	}
	if v < min || v > max {
		return 0, apperror.New(apperror.BadInput, "%s must be between %d and %d", name, min, max)
	}
	return v, nil
}

// requiredParam reads a query parameter that must be present and non-empty.
func requiredParam(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", apperror.New(apperror.BadInput, "Missing required parameter: %s", name)
	}
	return v, nil
}

// commaList splits a comma-separated query parameter into its non-empty
// trimmed entries. Returns nil when the parameter is absent or empty.
func commaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// broadcast publishes a dataset lifecycle event, logging on failure. A nil
// server is a no-op so tests can skip wiring one.
func broadcast(ctx context.Context, events eventstream.Server, eventType, datasetID string) {
	if events == nil {
		return
	}
	ev := eventstream.DatasetEvent{Type: eventType, DatasetID: datasetID}
	if err := events.Send(ctx, eventstream.Datasets, ev); err != nil {
		sklog.Warningf("Failed to broadcast %s for dataset %s: %s", eventType, datasetID, err)
	}
}
