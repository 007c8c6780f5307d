// Package httputils holds HTTP helpers shared by handlers and the
// capability adapters that call out to model endpoints.
package httputils

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/visionlens/visionlens/go/sklog"
)

const (
	dialTimeout    = 30 * time.Second
	requestTimeout = 5 * time.Minute

	fastDialTimeout    = 50 * time.Millisecond
	fastRequestTimeout = 100 * time.Millisecond
)

// ReportError formats an HTTP error response and logs the detailed error
// message. The message is what the user sees; err stays in the logs.
func ReportError(w http.ResponseWriter, err error, message string, code int) {
	sklog.Error(message, " ", err)
	if err != io.ErrClosedPipe {
		httpErrMsg := message
		if message == "" {
			httpErrMsg = "Unknown error"
		}
		http.Error(w, httpErrMsg, code)
	}
}

// SendJSON serializes body as the JSON response. Encoding failures are
// logged, not reported, because the header has already been written.
func SendJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		sklog.Errorf("Failed to write JSON response: %s", err)
	}
}

// ReadyHandleFunc is a trivial handler for health checks.
func ReadyHandleFunc(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		sklog.Errorf("Failed to write health response: %s", err)
	}
}

// NewTimeoutClient returns an http.Client with sane dial and request
// timeouts for talking to model capability endpoints.
func NewTimeoutClient() *http.Client {
	return NewConfiguredTimeoutClient(dialTimeout, requestTimeout)
}

// NewFastTimeoutClient is for calls expected to resolve on the local
// network, e.g. peer notification.
func NewFastTimeoutClient() *http.Client {
	return NewConfiguredTimeoutClient(fastDialTimeout, fastRequestTimeout)
}

// NewConfiguredTimeoutClient returns an http.Client with the given dial and
// request timeouts.
func NewConfiguredTimeoutClient(dial, request time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: dial}).DialContext,
		},
		Timeout: request,
	}
}

// GetWithContext executes a GET against url using the given client.
func GetWithContext(ctx context.Context, c *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// PostWithContext executes a POST against url using the given client,
// content type, and body.
func PostWithContext(ctx context.Context, c *http.Client, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}
