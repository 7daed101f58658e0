package stubllm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chat-relay-service/llm"
)

// Script is an llm.Stream that replays a fixed fragment sequence and then
// either completes or fails with FailWith.
type Script struct {
	Fragments []string
	FailWith  error
	Delay     time.Duration

	ctx    context.Context
	pos    int
	err    error
	closed atomic.Bool
}

func (s *Script) Next() bool {
	if s.err != nil || s.closed.Load() {
		return false
	}
	if s.ctx != nil {
		if s.Delay > 0 {
			select {
			case <-s.ctx.Done():
			case <-time.After(s.Delay):
			}
		}
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return false
		}
	}
	if s.pos >= len(s.Fragments) {
		s.err = s.FailWith
		return false
	}
	s.pos++
	return true
}

func (s *Script) Fragment() string {
	if s.pos == 0 {
		return ""
	}
	return s.Fragments[s.pos-1]
}

func (s *Script) Err() error { return s.err }

func (s *Script) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether the consumer released the stream.
func (s *Script) Closed() bool { return s.closed.Load() }

// Scripted is a Provider returning prepared outcomes, used by handler and relay tests.
type Scripted struct {
	Fragments []string
	// RejectWith makes StreamChat fail before any fragment.
	RejectWith error
	// FailWith ends the stream with an error after all fragments.
	FailWith error
	// Block makes the stream wait for cancellation after the fragments.
	Block bool

	mu       sync.Mutex
	calls    int
	messages []llm.ChatMessage
	params   llm.GenerationParams
	streams  []*Script
}

func (p *Scripted) Name() string { return "Scripted" }

func (p *Scripted) StreamChat(ctx context.Context, messages []llm.ChatMessage, params llm.GenerationParams) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.messages = messages
	p.params = params
	if p.RejectWith != nil {
		return nil, p.RejectWith
	}
	script := &Script{Fragments: p.Fragments, FailWith: p.FailWith, ctx: ctx}
	p.streams = append(p.streams, script)
	if p.Block {
		return &blockingScript{Script: script, ctx: ctx}, nil
	}
	return script, nil
}

// Calls returns how many upstream calls were opened.
func (p *Scripted) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// LastRequest returns the conversation and params of the latest call.
func (p *Scripted) LastRequest() ([]llm.ChatMessage, llm.GenerationParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages, p.params
}

// AllClosed reports whether every opened stream was closed by its consumer.
func (p *Scripted) AllClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.streams {
		if !s.Closed() {
			return false
		}
	}
	return true
}

// blockingScript replays its fragments and then waits until ctx is cancelled.
type blockingScript struct {
	*Script
	ctx context.Context
}

func (b *blockingScript) Next() bool {
	if b.Script.pos < len(b.Script.Fragments) {
		return b.Script.Next()
	}
	<-b.ctx.Done()
	b.Script.err = b.ctx.Err()
	return false
}
