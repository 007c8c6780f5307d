// Package eventstream pushes JSON events to connected browsers over
// Server-Sent Events.
//
// Handlers and background workers call Send with a named stream and a
// payload; every client subscribed to that stream receives the serialized
// payload. The process is single-instance, so there is no peer fan-out,
// Send publishes directly into the in-process SSE server.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	sse "github.com/r3labs/sse/v2"
	"github.com/visionlens/visionlens/go/metrics2"
	"github.com/visionlens/visionlens/go/skerr"
)

const (
	// QueryParameterName is the query parameter a client uses to name the
	// stream it subscribes to, e.g. /events?stream=datasets.
	QueryParameterName = "stream"

	clientConnectionsMetricName = "eventstream_client_connections"
)

// Datasets is the stream carrying dataset lifecycle events.
const Datasets = "datasets"

// Dataset lifecycle event types sent on the Datasets stream.
const (
	DatasetCreated   = "dataset_created"
	DatasetUpdated   = "dataset_updated"
	DatasetDeleted   = "dataset_deleted"
	IngestComplete   = "ingest_complete"
	PredictionsAdded = "predictions_added"
)

var (
	ErrStreamNameRequired = errors.New("a stream name is required as part of the query parameters")

	// ErrNilPayload because a nil payload serializes to "null", which clients
	// may mistake for no message at all.
	ErrNilPayload = errors.New("you cannot send a nil payload over SSE")
)

// DatasetEvent is the payload broadcast on the Datasets stream.
type DatasetEvent struct {
	Type      string `json:"type"`
	DatasetID string `json:"dataset_id"`
}

// Server broadcasts events to subscribed SSE clients.
type Server interface {
	// Send serializes payload as JSON and publishes it on the given stream.
	Send(ctx context.Context, stream string, payload interface{}) error

	// ClientConnectionHandler returns an http.HandlerFunc that handles
	// incoming SSE client connections.
	ClientConnectionHandler(ctx context.Context) http.HandlerFunc
}

// ServerImpl implements Server.
type ServerImpl struct {
	server *sse.Server
}

// New returns a new Server.
func New() *ServerImpl {
	return &ServerImpl{
		server: sse.New(),
	}
}

// Send implements Server.
func (s *ServerImpl) Send(ctx context.Context, stream string, payload interface{}) error {
	if stream == "" {
		return ErrStreamNameRequired
	}
	if payload == nil {
		return ErrNilPayload
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return skerr.Wrapf(err, "serializing event for stream %q", stream)
	}

	// Publish drops events for streams nobody has created yet, so make sure
	// the stream exists even if the first client is yet to connect.
	if !s.server.StreamExists(stream) {
		s.server.CreateStream(stream)
	}
	s.server.Publish(stream, &sse.Event{
		Data: b,
	})
	return nil
}

// ClientConnectionHandler implements Server.
func (s *ServerImpl) ClientConnectionHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamName := r.FormValue(QueryParameterName)
		if streamName == "" {
			http.Error(w, ErrStreamNameRequired.Error(), http.StatusBadRequest)
			return
		}
		if !s.server.StreamExists(streamName) {
			s.server.CreateStream(streamName)
		}
		c := metrics2.GetCounter(clientConnectionsMetricName, map[string]string{"stream": streamName})
		c.Inc(1)
		s.server.ServeHTTP(w, r)
		c.Dec(1)
	}
}

// Close shuts down the underlying SSE server and disconnects all clients.
func (s *ServerImpl) Close() {
	s.server.Close()
}

var _ Server = (*ServerImpl)(nil)
