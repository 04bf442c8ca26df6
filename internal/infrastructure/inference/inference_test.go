package inference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/castmatch-server/internal/config"
	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

func prompt(text string) aichat.CompletionRequest {
	return aichat.CompletionRequest{Messages: []aichat.ChatMessage{
		{Role: aichat.ChatRoleSystem, Content: "be brief"},
		{Role: aichat.ChatRoleUser, Content: text},
	}}
}

func collect(t *testing.T, ch <-chan aichat.Chunk) (string, []aichat.Chunk) {
	t.Helper()
	var b strings.Builder
	var all []aichat.Chunk
	for c := range ch {
		b.WriteString(c.Content)
		all = append(all, c)
	}
	return b.String(), all
}

func TestEchoProviderCompleteAndStreamAgree(t *testing.T) {
	p := NewEchoProvider("", 0)
	completion, err := p.Complete(context.Background(), prompt("Need a tenor"))
	require.NoError(t, err)
	assert.Equal(t, "You said: Need a tenor", completion.Content)
	assert.Equal(t, "echo-1", completion.Model)

	ch, err := p.Stream(context.Background(), prompt("Need a tenor"))
	require.NoError(t, err)
	text, chunks := collect(t, ch)
	assert.Equal(t, completion.Content, text)
	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)
	require.NotNil(t, last.Usage)
	assert.Equal(t, completion.Usage, *last.Usage)
}

func TestEchoProviderStopsOnCancel(t *testing.T) {
	p := NewEchoProvider("", 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Stream(ctx, prompt("one two three four five six"))
	require.NoError(t, err)
	<-ch
	cancel()
	for c := range ch {
		assert.False(t, c.Done)
	}
}

type flakyProvider struct {
	*EchoProvider
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyProvider) Complete(ctx context.Context, req aichat.CompletionRequest) (*aichat.Completion, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("upstream 500")
	}
	return f.EchoProvider.Complete(ctx, req)
}

func (f *flakyProvider) Stream(ctx context.Context, req aichat.CompletionRequest) (<-chan aichat.Chunk, error) {
	f.calls.Add(1)
	if !f.fail.Load() {
		return f.EchoProvider.Stream(ctx, req)
	}
	out := make(chan aichat.Chunk, 2)
	out <- aichat.Chunk{Content: "par"}
	out <- aichat.Chunk{Err: errors.New("reset by peer")}
	close(out)
	return out, nil
}

type breakerEvents struct{ transitions []string }

func (b *breakerEvents) ObserveBreakerState(string, float64) {}
func (b *breakerEvents) ObserveBreakerTransition(_, from, to string) {
	b.transitions = append(b.transitions, from+"->"+to)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyProvider{EchoProvider: NewEchoProvider("", 0)}
	inner.fail.Store(true)
	events := &breakerEvents{}
	p := NewBreakerProvider(inner, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, events, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := p.Complete(context.Background(), prompt("hi"))
		require.Error(t, err)
	}
	assert.Equal(t, "open", p.BreakerState())
	assert.Equal(t, []string{"closed->open"}, events.transitions)

	_, err := p.Complete(context.Background(), prompt("hi"))
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeExternal))
	assert.EqualValues(t, 2, inner.calls.Load(), "open breaker short-circuits")
}

func TestBreakerCountsStreamFailures(t *testing.T) {
	inner := &flakyProvider{EchoProvider: NewEchoProvider("", 0)}
	inner.fail.Store(true)
	p := NewBreakerProvider(inner, BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: time.Hour}, nil, zerolog.Nop())

	ch, err := p.Stream(context.Background(), prompt("hi"))
	require.NoError(t, err)
	_, chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Error(t, chunks[1].Err)
	assert.Equal(t, "open", p.BreakerState())

	_, err = p.Stream(context.Background(), prompt("hi"))
	assert.Error(t, err)
}

func TestBreakerIgnoresClientCancellation(t *testing.T) {
	inner := &flakyProvider{EchoProvider: NewEchoProvider("", 5*time.Millisecond)}
	p := NewBreakerProvider(inner, BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: time.Hour}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Stream(ctx, prompt("a b c d e f g"))
	require.NoError(t, err)
	<-ch
	cancel()
	for range ch {
	}
	assert.Equal(t, "closed", p.BreakerState())
}

func TestAnthropicRequestMergesRoles(t *testing.T) {
	p := NewAnthropicProvider("key", "", "claude-test", 0, zerolog.Nop())
	req := p.request(aichat.CompletionRequest{Messages: []aichat.ChatMessage{
		{Role: aichat.ChatRoleSystem, Content: "sys"},
		{Role: aichat.ChatRoleUser, Content: "a"},
		{Role: aichat.ChatRoleUser, Content: "b"},
		{Role: aichat.ChatRoleAssistant, Content: "c"},
	}}, true)

	assert.Equal(t, "claude-test", req.Model)
	assert.Equal(t, 1024, req.MaxTokens)
	assert.Equal(t, "sys", req.System)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "a\n\nb", req.Messages[0].Content)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.True(t, req.Stream)
}

func TestAnthropicReadStream(t *testing.T) {
	p := NewAnthropicProvider("key", "", "claude-test", 0, zerolog.Nop())
	body := strings.Join([]string{
		"event: message_start",
		`data: {"type":"message_start","message":{"usage":{"input_tokens":11}}}`,
		"",
		"event: content_block_delta",
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Call"}}`,
		"",
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"back!"}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`,
		`data: {"type":"message_stop"}`,
		"",
	}, "\n")

	out := make(chan aichat.Chunk)
	go func() {
		defer close(out)
		p.readStream(context.Background(), strings.NewReader(body), out)
	}()
	text, chunks := collect(t, out)
	assert.Equal(t, "Callback!", text)
	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "end_turn", last.FinishReason)
	assert.Equal(t, aichat.Usage{PromptTokens: 11, CompletionTokens: 3, TotalTokens: 14}, *last.Usage)
}

func TestAnthropicReadStreamTruncated(t *testing.T) {
	p := NewAnthropicProvider("key", "", "claude-test", 0, zerolog.Nop())
	out := make(chan aichat.Chunk)
	go func() {
		defer close(out)
		p.readStream(context.Background(), strings.NewReader(`data: {"type":"content_block_delta","delta":{"text":"hal"}}`+"\n"), out)
	}()
	_, chunks := collect(t, out)
	require.Len(t, chunks, 2)
	assert.Error(t, chunks[1].Err)
}

func TestNewProviderSelectsByConfig(t *testing.T) {
	p, err := NewProvider(&config.Config{AIProvider: "echo", AIModel: "echo-x", BreakerFailures: 3, BreakerTimeout: time.Second}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "echo", p.Name())
	assert.Equal(t, "echo-x", p.Model())
	_, ok := p.(aichat.BreakerReporter)
	assert.True(t, ok)

	_, err = NewProvider(&config.Config{AIProvider: "bard"}, nil, zerolog.Nop())
	assert.Error(t, err)
}

const upstreamSecret = "prompt echo: the lead is Maria Lopez, fee 40k"

func assertClientMessageHidesUpstream(t *testing.T, err error, want string) {
	t.Helper()
	pe := platformerrors.GetPlatformError(err)
	require.NotNil(t, pe)
	assert.Equal(t, platformerrors.ErrorTypeExternal, pe.Type)
	status, body := platformerrors.ToHTTPResponse(pe)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, want, body.Message)
	assert.NotContains(t, body.Message, upstreamSecret)
}

func TestAnthropicErrorResponseKeepsBodyOutOfMessage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"` + upstreamSecret + `"}}`))
	}))
	defer upstream.Close()

	p := NewAnthropicProvider("key", upstream.URL, "claude-test", time.Second, zerolog.Nop())

	_, err := p.Complete(context.Background(), prompt("hi"))
	require.Error(t, err)
	assertClientMessageHidesUpstream(t, err, "anthropic request failed")

	_, err = p.Stream(context.Background(), prompt("hi"))
	require.Error(t, err)
	assertClientMessageHidesUpstream(t, err, "anthropic streaming request failed")
}

func TestAnthropicStreamErrorEventKeepsDetailOutOfMessage(t *testing.T) {
	p := NewAnthropicProvider("key", "", "claude-test", 0, zerolog.Nop())
	body := `data: {"type":"error","error":{"type":"overloaded_error","message":"` + upstreamSecret + `"}}` + "\n"

	out := make(chan aichat.Chunk)
	go func() {
		defer close(out)
		p.readStream(context.Background(), strings.NewReader(body), out)
	}()
	_, chunks := collect(t, out)
	require.Len(t, chunks, 1)
	assertClientMessageHidesUpstream(t, chunks[0].Err, "anthropic stream error")
}

func TestOpenAIWrapKeepsAPIMessageOutOfMessage(t *testing.T) {
	p := &OpenAIProvider{log: zerolog.Nop()}
	apiErr := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Type: "rate_limit", Message: upstreamSecret}

	err := p.wrap(context.Background(), apiErr, "chat completion failed")
	assertClientMessageHidesUpstream(t, err, "chat completion failed")
	assert.ErrorIs(t, err, apiErr)
}
