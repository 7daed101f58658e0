package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"chat-relay-service/models"
)

var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// EventStreamWriter writes SSE frames of the form "data: <json>\n\n",
// flushing after every frame so fragments reach the caller as they arrive.
type EventStreamWriter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	committed bool
	events    int
}

func NewEventStreamWriter(w http.ResponseWriter) *EventStreamWriter {
	flusher, _ := w.(http.Flusher)
	return &EventStreamWriter{w: w, flusher: flusher}
}

// Commit sends the event-stream headers. After Commit the status can no longer change.
func (s *EventStreamWriter) Commit() error {
	if s.committed {
		return nil
	}
	if s.flusher == nil {
		return ErrStreamingUnsupported
	}

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	s.committed = true
	return nil
}

// WriteEvent writes one frame, committing first if needed.
func (s *EventStreamWriter) WriteEvent(event models.StreamEvent) error {
	if err := s.Commit(); err != nil {
		return err
	}

	var frame bytes.Buffer
	frame.WriteString("data: ")
	enc := json.NewEncoder(&frame)
	// HTML characters in fragments are sent unescaped.
	enc.SetEscapeHTML(false)
	// Encode terminates the JSON with the first of the two newlines.
	if err := enc.Encode(event); err != nil {
		return err
	}
	frame.WriteByte('\n')
	if _, err := s.w.Write(frame.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	s.events++
	return nil
}

func (s *EventStreamWriter) Committed() bool { return s.committed }

// Events returns how many frames were written.
func (s *EventStreamWriter) Events() int { return s.events }
