package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chat-relay-service/llm"
	"chat-relay-service/metrics"
	"chat-relay-service/models"
	"chat-relay-service/prompt"
	"chat-relay-service/stubllm"
	"chat-relay-service/utils"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = llm.GenerationParams{MaxTokens: 100, Temperature: 0.9}

func newRelay(provider llm.Provider, expose bool) *Relay {
	return New(provider, prompt.NewBuilder(""), Options{Params: testParams, ExposeUpstreamErrors: expose})
}

func frames(body string) []string {
	var out []string
	for _, frame := range strings.Split(body, "\n\n") {
		if frame != "" {
			out = append(out, frame)
		}
	}
	return out
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		request models.ChatRequest
		valid   bool
	}{
		{name: "Message present", request: models.ChatRequest{Message: "Tell me something", Language: "en"}, valid: true},
		{name: "Language optional", request: models.ChatRequest{Message: "Tell me something"}, valid: true},
		{name: "Message missing", request: models.ChatRequest{Language: "en"}, valid: false},
		{name: "Message empty", request: models.ChatRequest{Message: "", Language: "en"}, valid: false},
		{name: "Whitespace message is forwarded", request: models.ChatRequest{Message: "  \n\t"}, valid: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.request)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Equal(t, http.StatusBadRequest, StatusCode(err))
		})
	}
}

func TestOpenRejectsInvalidRequestWithoutUpstreamCall(t *testing.T) {
	provider := &stubllm.Scripted{Fragments: []string{"Wind"}}
	r := newRelay(provider, false)

	session, err := r.Open(context.Background(), "", models.ChatRequest{})
	require.Error(t, err)
	assert.Nil(t, session)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, MessageMissing, r.PublicMessage(err))
	assert.Equal(t, 0, provider.Calls())
}

func TestOpenSendsPersonaAndUserMessage(t *testing.T) {
	provider := &stubllm.Scripted{}
	r := newRelay(provider, false)

	session, err := r.Open(context.Background(), "sess-1", models.ChatRequest{Message: "Tell me something", Language: "en"})
	require.NoError(t, err)
	defer session.Close()
	assert.Equal(t, "sess-1", session.ID)

	messages, params := provider.LastRequest()
	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "Always reply in en.")
	assert.Equal(t, llm.ChatMessage{Role: llm.RoleUser, Content: "Tell me something"}, messages[1])
	assert.Equal(t, testParams, params)
}

func TestOpenGeneratesSessionID(t *testing.T) {
	r := newRelay(&stubllm.Scripted{}, false)
	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)
	defer session.Close()
	assert.Len(t, session.ID, 36)
}

func TestOpenUpstreamRejection(t *testing.T) {
	upstreamErr := errors.New("402 Insufficient Balance")
	r := newRelay(&stubllm.Scripted{RejectWith: upstreamErr}, false)
	before := testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues(metrics.ResultUpstreamRejected))

	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.Nil(t, session)
	assert.Equal(t, KindUpstreamRejection, KindOf(err))
	assert.ErrorIs(t, err, upstreamErr)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, MessageUpstreamFailed, r.PublicMessage(err))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues(metrics.ResultUpstreamRejected)))
}

func TestOpenUpstreamRejectionExposed(t *testing.T) {
	r := newRelay(&stubllm.Scripted{RejectWith: errors.New("402 Insufficient Balance")}, true)
	_, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	assert.Equal(t, "402 Insufficient Balance", r.PublicMessage(err))
}

func TestOpenClientGoneBeforeUpstreamAnswered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newRelay(&stubllm.Scripted{RejectWith: context.Canceled}, false)

	_, err := r.Open(ctx, "", models.ChatRequest{Message: "hi"})
	assert.Equal(t, KindClientDisconnect, KindOf(err))
}

func TestPipeForwardsFragmentsInOrder(t *testing.T) {
	provider := &stubllm.Scripted{Fragments: []string{"Wind", " passes", " through"}}
	r := newRelay(provider, false)

	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "Tell me something", Language: "en"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, session.Pipe(context.Background(), utils.NewEventStreamWriter(w)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{
		`data: {"text":"Wind"}`,
		`data: {"text":" passes"}`,
		`data: {"text":" through"}`,
		`data: {"end":true}`,
	}, frames(w.Body.String()))
	assert.Equal(t, 3, session.Fragments())
	assert.True(t, provider.AllClosed())
}

func TestPipeSkipsEmptyFragments(t *testing.T) {
	r := newRelay(&stubllm.Scripted{Fragments: []string{"", "Wind", "", ""}}, false)
	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, session.Pipe(context.Background(), utils.NewEventStreamWriter(w)))
	assert.Equal(t, []string{`data: {"text":"Wind"}`, `data: {"end":true}`}, frames(w.Body.String()))
}

func TestPipeZeroFragmentsStillTerminates(t *testing.T) {
	r := newRelay(&stubllm.Scripted{}, false)
	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, session.Pipe(context.Background(), utils.NewEventStreamWriter(w)))
	assert.Equal(t, []string{`data: {"end":true}`}, frames(w.Body.String()))
}

func TestPipeUpstreamFailureAfterFragment(t *testing.T) {
	provider := &stubllm.Scripted{Fragments: []string{"Wind"}, FailWith: errors.New("connection reset by peer")}
	r := newRelay(provider, false)
	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	err = session.Pipe(context.Background(), utils.NewEventStreamWriter(w))
	require.Error(t, err)
	assert.Equal(t, KindUpstreamStreamFailure, KindOf(err))

	var failure *UpstreamStreamFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.Fragments)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{
		`data: {"text":"Wind"}`,
		`data: {"error":"` + MessageUpstreamFailed + `"}`,
	}, frames(w.Body.String()))
	assert.NotContains(t, w.Body.String(), `"end"`)
	assert.True(t, provider.AllClosed())
}

func TestPipeUpstreamFailureExposed(t *testing.T) {
	r := newRelay(&stubllm.Scripted{FailWith: errors.New("overloaded")}, true)
	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.Error(t, session.Pipe(context.Background(), utils.NewEventStreamWriter(w)))
	assert.Equal(t, []string{`data: {"error":"overloaded"}`}, frames(w.Body.String()))
}

func TestPipeUpstreamFailureWithEmptyTextExposed(t *testing.T) {
	r := newRelay(&stubllm.Scripted{Fragments: []string{"Wind"}, FailWith: errors.New("")}, true)
	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.Error(t, session.Pipe(context.Background(), utils.NewEventStreamWriter(w)))
	assert.Equal(t, []string{
		`data: {"text":"Wind"}`,
		`data: {"error":"` + MessageUpstreamFailed + `"}`,
	}, frames(w.Body.String()))
}

func TestPublicMessageFallsBackOnEmptyUpstreamText(t *testing.T) {
	r := newRelay(&stubllm.Scripted{RejectWith: errors.New("")}, true)
	_, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, MessageUpstreamFailed, r.PublicMessage(err))
}

func TestPipeStopsOnClientDisconnect(t *testing.T) {
	provider := &stubllm.Scripted{Fragments: []string{"Wind"}, Block: true}
	r := newRelay(provider, false)

	ctx, cancel := context.WithCancel(context.Background())
	session, err := r.Open(ctx, "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	sink := &cancellingSink{EventStreamWriter: utils.NewEventStreamWriter(httptest.NewRecorder()), cancel: cancel}
	err = session.Pipe(ctx, sink)

	assert.Equal(t, KindClientDisconnect, KindOf(err))
	assert.Equal(t, 1, sink.Events(), "no terminal frame after disconnect")
	assert.True(t, provider.AllClosed())
}

func TestPipeStopsWhenWriteFails(t *testing.T) {
	provider := &stubllm.Scripted{Fragments: []string{"Wind", " passes", " through"}}
	r := newRelay(provider, false)
	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	err = session.Pipe(context.Background(), &brokenSink{failAfter: 1})
	assert.Equal(t, KindClientDisconnect, KindOf(err))
	assert.True(t, provider.AllClosed())
}

func TestPipeOnlyOnce(t *testing.T) {
	r := newRelay(&stubllm.Scripted{}, false)
	session, err := r.Open(context.Background(), "", models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	require.NoError(t, session.Pipe(context.Background(), utils.NewEventStreamWriter(httptest.NewRecorder())))
	assert.ErrorIs(t, session.Pipe(context.Background(), utils.NewEventStreamWriter(httptest.NewRecorder())), ErrSessionConsumed)
}

// cancellingSink cancels the session context after the first text event, as a
// browser closing its tab would.
type cancellingSink struct {
	*utils.EventStreamWriter
	cancel context.CancelFunc
}

func (s *cancellingSink) WriteEvent(event models.StreamEvent) error {
	err := s.EventStreamWriter.WriteEvent(event)
	s.cancel()
	return err
}

type brokenSink struct {
	failAfter int
	written   int
}

func (s *brokenSink) Commit() error { return nil }

func (s *brokenSink) WriteEvent(models.StreamEvent) error {
	if s.written >= s.failAfter {
		return errors.New("write: broken pipe")
	}
	s.written++
	return nil
}
