package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	errTrailingData         = errors.New("request body must contain a single JSON object")
	ErrStreamingUnsupported = errors.New("response writer does not support streaming")
)

// SSEWriter writes server-sent events. Headers are sent on the first event.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &SSEWriter{w: w, flusher: f}, nil
}

// Started reports whether any event has been written.
func (s *SSEWriter) Started() bool { return s.started }

// Event writes one named event with a JSON payload and flushes it.
func (s *SSEWriter) Event(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
