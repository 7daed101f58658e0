package relay

import (
	"context"
	"errors"
	"time"

	"chat-relay-service/llm"
	"chat-relay-service/metrics"
	"chat-relay-service/models"
	"chat-relay-service/prompt"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// Caller-visible messages. Upstream error text stays in the logs unless
// Options.ExposeUpstreamErrors is set.
const (
	MessageMissing        = "request parameter error: missing 'message'."
	MessageInvalidBody    = "request parameter error: body must be a JSON object with a string 'message'."
	MessageUpstreamFailed = "AI model call failed, please check the API key and balance."
)

var ErrSessionConsumed = errors.New("session stream already consumed")

type Options struct {
	Params               llm.GenerationParams
	ExposeUpstreamErrors bool
}

// Relay carries prompts to the upstream provider and its fragments back to callers.
// It holds only read-only configuration and is shared by all requests.
type Relay struct {
	provider llm.Provider
	prompts  *prompt.Builder
	opts     Options
}

func New(provider llm.Provider, prompts *prompt.Builder, opts Options) *Relay {
	return &Relay{provider: provider, prompts: prompts, opts: opts}
}

// Sink is the outbound channel of one session.
type Sink interface {
	// Commit switches the response to event-stream mode.
	Commit() error
	WriteEvent(event models.StreamEvent) error
}

// Validate checks a prompt request before anything is sent upstream.
// Only an absent or empty message is refused; whitespace is forwarded as is.
func Validate(req models.ChatRequest) error {
	if req.Message == "" {
		return &ValidationError{Reason: MessageMissing}
	}
	return nil
}

// InvalidBody wraps a request body that could not be decoded.
func InvalidBody(err error) error {
	return &ValidationError{Reason: MessageInvalidBody, Err: err}
}

// Reject records a request refused before Open, such as an undecodable body.
func (r *Relay) Reject(id string, err error) {
	log.WithFields(log.Fields{"session_id": id, "kind": KindOf(err)}).
		WithError(err).Warn("chat.request.rejected")
	metrics.SessionsTotal.WithLabelValues(metrics.ResultRejected).Inc()
}

// Open validates req and opens the upstream stream. A returned error is
// either a *ValidationError or an *UpstreamRejection (or a *ClientDisconnect
// when ctx ended while waiting); in all cases nothing has been written to the caller.
func (r *Relay) Open(ctx context.Context, id string, req models.ChatRequest) (*Session, error) {
	started := time.Now()
	if id == "" {
		id = uuid.NewString()
	}

	if err := Validate(req); err != nil {
		r.Reject(id, err)
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"session_id": id,
		"provider":   r.provider.Name(),
		"language":   req.Language,
	})

	stream, err := r.provider.StreamChat(ctx, r.prompts.Conversation(req.Message, req.Language), r.opts.Params)
	metrics.UpstreamOpenSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.WithError(err).Info("chat.client.disconnected")
			metrics.SessionsTotal.WithLabelValues(metrics.ResultDisconnected).Inc()
			return nil, &ClientDisconnect{Err: ctxErr}
		}
		logger.WithError(err).WithField("upstream_status", llm.StatusCode(err)).Error("chat.upstream.rejected")
		metrics.SessionsTotal.WithLabelValues(metrics.ResultUpstreamRejected).Inc()
		metrics.SessionDurationSeconds.WithLabelValues(metrics.ResultUpstreamRejected).Observe(time.Since(started).Seconds())
		return nil, &UpstreamRejection{Err: err}
	}

	metrics.SessionsInFlight.Inc()
	logger.Info("chat.stream.open")
	return &Session{ID: id, relay: r, stream: stream, started: started, logger: logger}, nil
}

// PublicMessage returns the short caller-visible text for err.
func (r *Relay) PublicMessage(err error) string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Reason
	}
	if r.opts.ExposeUpstreamErrors {
		if inner := errors.Unwrap(err); inner != nil && inner.Error() != "" {
			return inner.Error()
		}
	}
	return MessageUpstreamFailed
}

// Session is one inbound connection bound to one upstream stream.
type Session struct {
	ID string

	relay     *Relay
	stream    llm.Stream
	started   time.Time
	logger    log.Interface
	fragments int
	piped     bool
	closed    bool
}

// Pipe commits sink to streaming and forwards fragments in upstream order,
// ending with exactly one terminal event: {"end":true} on completion or
// {"error":...} on upstream failure. On caller disconnect it stops without a
// terminal event. The upstream stream is released before Pipe returns.
func (s *Session) Pipe(ctx context.Context, sink Sink) error {
	if s.piped {
		return ErrSessionConsumed
	}
	s.piped = true

	err := s.pipe(ctx, sink)
	s.finish(err)
	return err
}

func (s *Session) pipe(ctx context.Context, sink Sink) error {
	defer s.Close()

	if err := sink.Commit(); err != nil {
		return &ClientDisconnect{Err: err}
	}

	for s.stream.Next() {
		if err := ctx.Err(); err != nil {
			return &ClientDisconnect{Err: err}
		}
		fragment := s.stream.Fragment()
		if fragment == "" {
			continue
		}
		if err := sink.WriteEvent(models.TextEvent(fragment)); err != nil {
			return &ClientDisconnect{Err: err}
		}
		if s.fragments == 0 {
			metrics.TimeToFirstFragmentSeconds.Observe(time.Since(s.started).Seconds())
		}
		s.fragments++
		metrics.FragmentsTotal.Inc()
	}

	if err := ctx.Err(); err != nil {
		return &ClientDisconnect{Err: err}
	}

	if err := s.stream.Err(); err != nil {
		failure := &UpstreamStreamFailure{Err: err, Fragments: s.fragments}
		if werr := sink.WriteEvent(models.ErrorEvent(s.relay.PublicMessage(failure))); werr != nil {
			s.logger.WithError(werr).Warn("chat.stream.error_frame_lost")
		}
		return failure
	}

	if err := sink.WriteEvent(models.EndEvent()); err != nil {
		return &ClientDisconnect{Err: err}
	}
	return nil
}

func (s *Session) finish(err error) {
	result := metrics.ResultCompleted
	logger := s.logger.WithFields(log.Fields{
		"fragments":   s.fragments,
		"duration_ms": time.Since(s.started).Milliseconds(),
	})

	switch KindOf(err) {
	case KindUpstreamStreamFailure:
		result = metrics.ResultUpstreamFailed
		logger.WithError(err).Error("chat.stream.failed")
	case KindClientDisconnect:
		result = metrics.ResultDisconnected
		logger.WithError(err).Info("chat.client.disconnected")
	default:
		logger.Info("chat.stream.completed")
	}

	metrics.SessionsTotal.WithLabelValues(result).Inc()
	metrics.SessionDurationSeconds.WithLabelValues(result).Observe(time.Since(s.started).Seconds())
}

// Close releases the upstream stream. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	metrics.SessionsInFlight.Dec()
	return s.stream.Close()
}

// Fragments returns how many text events were forwarded.
func (s *Session) Fragments() int { return s.fragments }
