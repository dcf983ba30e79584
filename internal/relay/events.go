// Package relay adapts upstream session chunk streams into the outbound
// Server-Sent-Events protocol, for plain chat requests (Relay) and for
// multi-model comparison requests (Comparator).
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Outbound event names.
const (
	EventMessage    = "message"
	EventError      = "error"
	EventDone       = "done"
	EventChunk      = "chunk"
	EventModelDone  = "model_done"
	EventModelError = "model_error"
	EventAllDone    = "all_done"
)

// doneSentinel is the literal payload of the terminal done event.
const doneSentinel = "[DONE]"

// MessageEvent is one incremental delta on a single-model stream.
type MessageEvent struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Model   string `json:"model"`
}

// ErrorEvent reports a failed single-model stream.
type ErrorEvent struct {
	Error string `json:"error"`
}

// ChunkEvent is one incremental delta from one session of a comparison run.
type ChunkEvent struct {
	Model   string `json:"model"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// ModelErrorEvent reports one failed session of a comparison run. The
// failure is local to that session; siblings keep streaming.
type ModelErrorEvent struct {
	Model string `json:"model"`
	Error string `json:"error"`
	Done  bool   `json:"done"`
}

// ModelDoneEvent summarizes one completed session of a comparison run.
// Duration is milliseconds since that session's start.
type ModelDoneEvent struct {
	Model       string `json:"model"`
	FullContent string `json:"fullContent"`
	Duration    int64  `json:"duration"`
	EvalCount   int    `json:"eval_count"`
}

// AllDoneEvent closes a comparison run. TotalDuration is milliseconds
// since the run started. It is always the last event of a run.
type AllDoneEvent struct {
	TotalDuration int64 `json:"totalDuration"`
}

// EventWriter is the only component permitted to write to the client
// stream. Concurrent producers funnel through its mutex so each event
// frame reaches the wire as an atomic unit; event selection order across
// producers remains nondeterministic.
type EventWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEventWriter prepares w for Server-Sent Events and returns the writer.
func NewEventWriter(w http.ResponseWriter) *EventWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &EventWriter{w: w, flusher: flusher}
}

// WriteEvent marshals data and writes one named event frame.
func (ew *EventWriter) WriteEvent(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return ew.writeFrame(name, payload)
}

// WriteDone writes the terminal done sentinel of a single-model stream.
func (ew *EventWriter) WriteDone() error {
	return ew.writeFrame(EventDone, []byte(doneSentinel))
}

func (ew *EventWriter) writeFrame(name string, payload []byte) error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if _, err := fmt.Fprintf(ew.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	if ew.flusher != nil {
		ew.flusher.Flush()
	}
	return nil
}
