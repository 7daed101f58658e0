package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

var ErrIdleTimeout = errors.New("upstream stream idle timeout")

// OpenAIConfig configures an OpenAI-compatible provider (OpenAI, DeepSeek, ...).
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	HTTPClient  *http.Client
	IdleTimeout time.Duration
}

// OpenAIProvider implements Provider on the chat completions API.
type OpenAIProvider struct {
	client      openai.Client
	model       string
	idleTimeout time.Duration
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key must be provided")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model must be provided")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(base, "/") + "/"),
		// A failed call is reported once, never re-driven.
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		idleTimeout: cfg.IdleTimeout,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("OpenAI-compatible (%s)", p.model)
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []ChatMessage, params GenerationParams) (Stream, error) {
	if len(messages) == 0 {
		return nil, errors.New("at least one message must be provided")
	}

	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			req.Messages = append(req.Messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			req.Messages = append(req.Messages, openai.UserMessage(msg.Content))
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	req.Temperature = openai.Float(params.Temperature)

	streamCtx, cancel := context.WithCancel(ctx)
	// NewStreaming performs the HTTP exchange up to the response headers, so a
	// rejected request (auth, quota, bad request) is visible before any chunk.
	stream := p.client.Chat.Completions.NewStreaming(streamCtx, req)
	if err := stream.Err(); err != nil {
		stream.Close()
		cancel()
		return nil, fmt.Errorf("open chat completion stream: %w", err)
	}

	return &openAIStream{stream: stream, cancel: cancel, idleTimeout: p.idleTimeout}, nil
}

type openAIStream struct {
	stream      *ssestream.Stream[openai.ChatCompletionChunk]
	cancel      context.CancelFunc
	idleTimeout time.Duration
	timedOut    atomic.Bool

	fragment string
	err      error
}

func (s *openAIStream) Next() bool {
	if s.err != nil {
		return false
	}

	var timer *time.Timer
	if s.idleTimeout > 0 {
		timer = time.AfterFunc(s.idleTimeout, func() {
			s.timedOut.Store(true)
			s.cancel()
		})
	}
	ok := s.stream.Next()
	if timer != nil {
		timer.Stop()
	}

	if !ok {
		switch {
		case s.timedOut.Load():
			s.err = ErrIdleTimeout
		case s.stream.Err() != nil:
			s.err = s.stream.Err()
		}
		return false
	}

	s.fragment = ""
	if chunk := s.stream.Current(); len(chunk.Choices) > 0 {
		s.fragment = chunk.Choices[0].Delta.Content
	}
	return true
}

func (s *openAIStream) Fragment() string { return s.fragment }

func (s *openAIStream) Err() error { return s.err }

// Close releases the upstream response body and cancels the request.
func (s *openAIStream) Close() error {
	err := s.stream.Close()
	s.cancel()
	return err
}

// StatusCode extracts the upstream HTTP status from a provider error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

var _ Provider = (*OpenAIProvider)(nil)
