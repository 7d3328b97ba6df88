// Package eventlog is the Event Log half of the State Store: an
// append-only newline-delimited JSON sink, plus a human-readable stdout
// line per event.
//
// Grounded on control_plane/timeline/store.go's ReconcileEvent (the record
// shape: a stage/tag, a timestamp, free-form metadata) and
// control_plane/streaming/logger.go's LogPublisher (marshal, log a single
// line, never fail the caller on a sink error). The per-event "id" field
// replaces that file's hardcoded "log-id-stub" placeholder with a real
// github.com/google/uuid value.
package eventlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one append-only log record. Fields beyond the four required
// ones are carried in Extra and flattened into the top-level JSON object.
type Event struct {
	ID      string         `json:"id"`
	Time    time.Time      `json:"time"`
	Event   string         `json:"event"`
	Message string         `json:"message"`
	Extra   map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the fixed fields, matching the
// spec's "arbitrary structured fields" event-log shape.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		m[k] = v
	}
	m["id"] = e.ID
	m["time"] = e.Time.UTC().Format(time.RFC3339)
	m["event"] = e.Event
	m["message"] = e.Message
	return json.Marshal(m)
}

// Sink appends events to a JSONL file and echoes a human-readable line to
// stdout. Advisory only: a write failure is logged, never returned to the
// caller, because losing an event must not corrupt scheduler state.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	log    *zap.SugaredLogger
}

// Open creates or appends to path and returns a Sink writing to it.
func Open(path string, log *zap.SugaredLogger) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &Sink{w: f, closer: f, log: log}, nil
}

// NewInMemory builds a Sink over an arbitrary writer, for tests.
func NewInMemory(w io.Writer, log *zap.SugaredLogger) *Sink {
	return &Sink{w: w, log: log}
}

// Emit appends one event and prints its human-readable line.
func (s *Sink) Emit(tag, message string, extra map[string]any) {
	ev := Event{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC(),
		Event:   tag,
		Message: message,
		Extra:   extra,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(ev)
	if err != nil {
		s.log.Warnw("eventlog: marshal failed", "event", tag, "error", err)
		return
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		s.log.Warnw("eventlog: append failed", "event", tag, "error", err)
	}
	fmt.Fprintf(os.Stdout, "%s [%s] %s\n", ev.Time.Format(time.RFC3339), tag, message)
	s.log.Infow(message, "event", tag)
}

// Close releases the underlying file handle, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
