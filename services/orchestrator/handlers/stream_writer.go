package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
)

// =============================================================================
// Fragment Writer
// =============================================================================

// FragmentWriter streams raw text fragments to an HTTP response,
// flushing after every write so the browser renders prose as it
// arrives, then terminates the feed with a single metadata trailer.
//
// # Wire Format
//
// The body is raw text: fragments are concatenated with no framing,
// under a text/event-stream content type so intermediaries treat the
// response as a live stream. The trailer is the MetadataMarker literal
// followed by one JSON object; the marker's leading newline is what
// separates it from the prose.
//
// # Thread Safety
//
// Safe for concurrent use, though the chat pipeline writes from a
// single goroutine.
type FragmentWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewFragmentWriter prepares w for streaming and returns the writer.
// Returns an error when the ResponseWriter cannot flush, which would
// buffer the whole stream and defeat the endpoint.
func NewFragmentWriter(w http.ResponseWriter) (*FragmentWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Tells nginx-style proxies not to buffer the stream.
	h.Set("X-Accel-Buffering", "no")

	return &FragmentWriter{w: w, flusher: flusher}, nil
}

// WriteFragment writes one prose fragment and flushes.
func (f *FragmentWriter) WriteFragment(fragment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write([]byte(fragment)); err != nil {
		return fmt.Errorf("writing fragment: %w", err)
	}
	f.flusher.Flush()
	return nil
}

// WriteMetadata writes the terminal metadata trailer. Nothing may be
// written after it.
func (f *FragmentWriter) WriteMetadata(meta datatypes.StreamMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling stream metadata: %w", err)
	}
	if _, err := f.w.Write([]byte(datatypes.MetadataMarker)); err != nil {
		return fmt.Errorf("writing metadata marker: %w", err)
	}
	if _, err := f.w.Write(payload); err != nil {
		return fmt.Errorf("writing metadata payload: %w", err)
	}
	f.flusher.Flush()
	return nil
}
