package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/tasks"
)

// sseWriter writes server-sent events directly onto a response. Headers go
// out on first use, which commits the response to a 200, so callers that
// can still fail cleanly should delay the first event until they are past
// their validation.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set(contentTypeHeader, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.started = true
}

// Send writes one unnamed data event.
func (s *sseWriter) Send(payload interface{}) {
	s.send("", payload)
}

// SendEvent writes one named event.
func (s *sseWriter) SendEvent(event string, payload interface{}) {
	s.send(event, payload)
}

func (s *sseWriter) send(event string, payload interface{}) {
	s.start()
	b, err := json.Marshal(payload)
	if err != nil {
		sklog.Errorf("Failed to serialize SSE payload: %s", err)
		return
	}
	if event != "" {
		fmt.Fprintf(s.w, "event: %s\n", event)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// streamTaskProgress snapshots the engine's progress record on a fixed
// cadence and streams each snapshot as a named progress event, closing
// after the first terminal one. A client disconnect ends the stream; the
// task itself keeps running.
func streamTaskProgress(w http.ResponseWriter, r *http.Request, engine *tasks.Engine, datasetID string, taskType tasks.Type, poll time.Duration) {
	sw := newSSEWriter(w)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		progress := engine.Progress(datasetID, taskType)
		sw.SendEvent("progress", progress)
		if progress.Status.Terminal() {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
