package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Writer emits SSE frames on an HTTP response. It is safe for concurrent use
// so a heartbeat goroutine can share it with the event loop.
type Writer struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	opened bool
}

// NewWriter sets the event-stream headers and returns a writer. The status
// line is not sent until the first frame or an explicit Open.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, rc: http.NewResponseController(w)}
}

// Open commits the 200 response so the client sees the stream immediately.
// Later calls are no-ops.
func (s *Writer) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	s.opened = true
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// Opened reports whether the status line has been sent.
func (s *Writer) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// ExtendDeadline pushes the write deadline out by d. Servers with a short
// WriteTimeout would otherwise cut long-lived streams.
func (s *Writer) ExtendDeadline(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Not every ResponseWriter supports deadlines; httptest's recorder does not.
	_ = s.rc.SetWriteDeadline(time.Now().Add(d))
}

// Data writes one "data:" frame carrying v as JSON.
func (s *Writer) Data(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.Raw(payload)
}

// Raw writes one "data:" frame with a pre-encoded JSON payload.
func (s *Writer) Raw(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return s.flush()
}

// KeepAlive writes a comment frame that clients ignore.
func (s *Writer) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	return s.flush()
}

func (s *Writer) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
