package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jo-hoe/banano/internal/backend/generation"
)

// SSEEmitter writes events as Server-Sent Events, one "data:" frame each.
type SSEEmitter struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewSSEEmitter commits the response headers; nothing else may be written to
// w afterwards except through the emitter.
func NewSSEEmitter(w http.ResponseWriter) (*SSEEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEEmitter{writer: w, flusher: flusher}, nil
}

func (e *SSEEmitter) Emit(ctx context.Context, event generation.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	e.flusher.Flush()
	return nil
}
