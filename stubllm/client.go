package stubllm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"time"

	"chat-relay-service/llm"
)

// Client is a deterministic, no-network provider intended for CI and local front-end work.
// The reply is picked from a fixed set by hashing the user message, then streamed word by word.
type Client struct {
	// Delay is slept before every fragment to mimic token pacing.
	Delay time.Duration
}

var replies = []string{
	"The wind is strong, yet it bends around the soul.",
	"This moment is that moment. What you seek has already found you.",
	"In falling, you will learn to fly.",
	"A river does not ask the stars for a map; it simply keeps flowing toward the light.",
}

func NewClient() *Client { return &Client{} }

func (c *Client) Name() string { return "Stub" }

func (c *Client) StreamChat(ctx context.Context, messages []llm.ChatMessage, params llm.GenerationParams) (llm.Stream, error) {
	var user string
	for _, msg := range messages {
		if msg.Role == llm.RoleUser {
			user = msg.Content
		}
	}
	return &Script{Fragments: Words(Reply(user)), Delay: c.Delay, ctx: ctx}, nil
}

// Reply returns the canned answer for a user message.
func Reply(message string) string {
	sum := sha256.Sum256([]byte(message))
	return replies[binary.BigEndian.Uint64(sum[:8])%uint64(len(replies))]
}

// Words splits text into fragments that keep their leading space, so that
// concatenating the fragments yields the original text.
func Words(text string) []string {
	var out []string
	for i, word := range strings.Split(text, " ") {
		if i > 0 {
			word = " " + word
		}
		out = append(out, word)
	}
	return out
}

var _ llm.Provider = (*Client)(nil)
