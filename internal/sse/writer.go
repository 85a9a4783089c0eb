// Package sse provides Server-Sent Events utilities for streaming
// responses.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Writer wraps an http.ResponseWriter for SSE streaming. Writes are
// serialized so the heartbeat timer may fire while a data event is
// being written.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets appropriate headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent marshals v and sends it as one data event.
func (w *Writer) WriteEvent(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteComment sends a comment-only line. Comments carry no payload;
// intermediaries see traffic and keep the connection open.
func (w *Writer) WriteComment(comment string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.w, ": %s\n\n", comment); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}
	w.flusher.Flush()
	return nil
}
