package llm

import "context"

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// ChatMessage is one role-tagged turn of the conversation sent upstream.
type ChatMessage struct {
	Role    Role
	Content string
}

// GenerationParams carries the fixed generation knobs.
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
}

// Stream is a lazy, finite, non-restartable sequence of text fragments.
// Next returns false once the upstream has completed or failed; Err tells which.
// Fragment may be empty when an upstream chunk carried no new text.
type Stream interface {
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// Provider opens streaming chat completions.
// Implementations must be safe for concurrent use.
// A non-nil error from StreamChat means the upstream refused the call before
// any fragment was produced; failures after that surface through Stream.Err.
type Provider interface {
	StreamChat(ctx context.Context, messages []ChatMessage, params GenerationParams) (Stream, error)
	// Name returns a short provider label for logs.
	Name() string
}
