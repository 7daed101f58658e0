package models

// ChatRequest is the body accepted by POST /api/chat.
type ChatRequest struct {
	Message  string `json:"message"`
	Language string `json:"language,omitempty"`
}

// StreamEvent is one SSE frame payload. Exactly one field is set per event.
type StreamEvent struct {
	Text  string `json:"text,omitempty"`
	End   bool   `json:"end,omitempty"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the non-streamed failure body.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func TextEvent(fragment string) StreamEvent {
	return StreamEvent{Text: fragment}
}

func EndEvent() StreamEvent {
	return StreamEvent{End: true}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Error: message}
}

// IsTerminal reports whether the event closes a stream.
func (e StreamEvent) IsTerminal() bool {
	return e.End || e.Error != ""
}

func Failure(message string) ErrorResponse {
	return ErrorResponse{Success: false, Error: message}
}
