package aichat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
	"github.com/castmatch/castmatch-server/internal/domain/realtime"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// ConversationStore is the part of the conversation service the orchestrator needs.
type ConversationStore interface {
	GetConversationForUser(ctx context.Context, publicID, userID string) (*conversation.Conversation, error)
	CreateMessage(ctx context.Context, input conversation.CreateMessageInput) (*conversation.Message, error)
	RecentHistory(ctx context.Context, conv *conversation.Conversation, limit int) ([]*conversation.Message, error)
	Stats(ctx context.Context, conversationID, userID string) (*conversation.Conversation, *conversation.MessageStats, error)
}

type RateLimiter interface {
	Check(ctx context.Context, principal identity.Principal, conversationID string) (*ratelimit.Decision, error)
}

// SummaryCache stores synopses keyed by conversation and message count.
type SummaryCache interface {
	GetSummary(ctx context.Context, conversationID string, messageCount int) (string, bool)
	SetSummary(ctx context.Context, conversationID string, messageCount int, summary string)
}

// Observer receives orchestrator outcomes; metrics implement it.
type Observer interface {
	ObserveCompletion(provider, mode, outcome string, elapsed time.Duration)
	ObserveChunk(provider string)
	ObserveProviderHealth(provider string, healthy bool)
}

type nopObserver struct{}

func (nopObserver) ObserveCompletion(string, string, string, time.Duration) {}
func (nopObserver) ObserveChunk(string)                                    {}
func (nopObserver) ObserveProviderHealth(string, bool)                     {}

type Config struct {
	SystemPrompt string
	HistoryLimit int
	MaxTokens    int
	Temperature  float32
}

// Orchestrator turns a user prompt into a persisted AI reply.
type Orchestrator struct {
	store       ConversationStore
	limiter     RateLimiter
	provider    Provider
	broadcaster realtime.Broadcaster
	summaries   SummaryCache
	observer    Observer
	cfg         Config
	log         zerolog.Logger

	healthMu   sync.RWMutex
	lastHealth *HealthReport
}

func NewOrchestrator(store ConversationStore, limiter RateLimiter, provider Provider, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Orchestrator{
		store:       store,
		limiter:     limiter,
		provider:    provider,
		broadcaster: realtime.NopBroadcaster{},
		observer:    nopObserver{},
		cfg:         cfg,
		log:         log.With().Str("component", "ai-orchestrator").Logger(),
	}
}

func (o *Orchestrator) WithBroadcaster(b realtime.Broadcaster) *Orchestrator {
	if b != nil {
		o.broadcaster = b
	}
	return o
}

func (o *Orchestrator) WithSummaryCache(c SummaryCache) *Orchestrator {
	o.summaries = c
	return o
}

func (o *Orchestrator) WithObserver(obs Observer) *Orchestrator {
	if obs != nil {
		o.observer = obs
	}
	return o
}

type ReplyRequest struct {
	Principal      identity.Principal
	ConversationID string
	Content        string
}

// Reply is the batch result. Decision is set whenever the limiter ran, even
// when the call was rejected.
type Reply struct {
	Decision    *ratelimit.Decision
	UserMessage *conversation.Message
	AIMessage   *conversation.Message
	Usage       Usage
}

type turn struct {
	conv        *conversation.Conversation
	decision    *ratelimit.Decision
	userMessage *conversation.Message
	request     CompletionRequest
}

// begin authorizes the caller, checks the AI budgets, persists the user
// message and builds the provider request.
func (o *Orchestrator) begin(ctx context.Context, req ReplyRequest) (*turn, error) {
	conv, err := o.store.GetConversationForUser(ctx, req.ConversationID, req.Principal.ID)
	if err != nil {
		return nil, err
	}

	decision, err := o.limiter.Check(ctx, req.Principal, conv.PublicID)
	if err != nil {
		return &turn{decision: decision}, err
	}

	author := req.Principal.ID
	userMessage, err := o.store.CreateMessage(ctx, conversation.CreateMessageInput{
		ConversationID: conv.PublicID,
		AuthorID:       &author,
		Content:        req.Content,
		Type:           conversation.MessageTypeText,
	})
	if err != nil {
		return &turn{decision: decision}, err
	}
	room := realtime.ConversationRoom(conv.PublicID)
	o.broadcaster.EmitToRoom(room, realtime.EventMessageNew, userMessage)

	history, err := o.store.RecentHistory(ctx, conv, o.cfg.HistoryLimit)
	if err != nil {
		return &turn{decision: decision, userMessage: userMessage}, err
	}

	o.broadcaster.EmitToRoom(room, realtime.EventAITyping, realtime.AITypingPayload{ConversationID: conv.PublicID, IsTyping: true})

	return &turn{
		conv:        conv,
		decision:    decision,
		userMessage: userMessage,
		request: CompletionRequest{
			Model:       o.provider.Model(),
			Messages:    BuildPrompt(o.cfg.SystemPrompt, conv, history),
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
		},
	}, nil
}

// Reply produces a complete AI response in one provider call.
func (o *Orchestrator) Reply(ctx context.Context, req ReplyRequest) (*Reply, error) {
	t, err := o.begin(ctx, req)
	if err != nil {
		if t != nil {
			return &Reply{Decision: t.decision, UserMessage: t.userMessage}, err
		}
		return nil, err
	}
	reply := &Reply{Decision: t.decision, UserMessage: t.userMessage}
	room := realtime.ConversationRoom(t.conv.PublicID)
	defer o.broadcaster.EmitToRoom(room, realtime.EventAITyping, realtime.AITypingPayload{ConversationID: t.conv.PublicID, IsTyping: false})

	start := time.Now()
	completion, err := o.provider.Complete(ctx, t.request)
	if err != nil {
		o.observer.ObserveCompletion(o.provider.Name(), "batch", "error", time.Since(start))
		return reply, o.providerError(ctx, err)
	}
	if strings.TrimSpace(completion.Content) == "" {
		o.observer.ObserveCompletion(o.provider.Name(), "batch", "empty", time.Since(start))
		return reply, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "AI provider returned an empty response", nil, "c2acff3a-7e60-424d-8fd0-e5ba43fe1de0")
	}
	o.observer.ObserveCompletion(o.provider.Name(), "batch", "ok", time.Since(start))

	aiMessage, err := o.persistAIMessage(ctx, t, completion.Content, completion.Model, completion.FinishReason, completion.Usage)
	if err != nil {
		return reply, err
	}
	reply.AIMessage = aiMessage
	reply.Usage = completion.Usage
	return reply, nil
}

type StreamEventType string

const (
	StreamEventChunk    StreamEventType = "chunk"
	StreamEventComplete StreamEventType = "complete"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is what the consumer of a stream receives. Complete and Error
// are terminal.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Message *conversation.Message
	Err     error
}

// StreamReply carries the persisted user message and the event channel. The
// channel is closed after a terminal event or when the request context ends.
type StreamReply struct {
	Decision    *ratelimit.Decision
	UserMessage *conversation.Message
	Events      <-chan StreamEvent
}

// Stream starts a streamed AI response. Errors before the provider starts
// streaming are returned directly; later ones arrive as a StreamEventError.
func (o *Orchestrator) Stream(ctx context.Context, req ReplyRequest) (*StreamReply, error) {
	t, err := o.begin(ctx, req)
	if err != nil {
		if t != nil {
			return &StreamReply{Decision: t.decision, UserMessage: t.userMessage}, err
		}
		return nil, err
	}
	room := realtime.ConversationRoom(t.conv.PublicID)

	start := time.Now()
	chunks, err := o.provider.Stream(ctx, t.request)
	if err != nil {
		o.observer.ObserveCompletion(o.provider.Name(), "stream", "error", time.Since(start))
		o.broadcaster.EmitToRoom(room, realtime.EventAITyping, realtime.AITypingPayload{ConversationID: t.conv.PublicID, IsTyping: false})
		return &StreamReply{Decision: t.decision, UserMessage: t.userMessage}, o.providerError(ctx, err)
	}

	events := make(chan StreamEvent)
	go o.consume(ctx, t, chunks, events, start)

	return &StreamReply{Decision: t.decision, UserMessage: t.userMessage, Events: events}, nil
}

func (o *Orchestrator) consume(ctx context.Context, t *turn, chunks <-chan Chunk, events chan<- StreamEvent, start time.Time) {
	convID := t.conv.PublicID
	room := realtime.ConversationRoom(convID)
	defer close(events)
	defer o.broadcaster.EmitToRoom(room, realtime.EventAITyping, realtime.AITypingPayload{ConversationID: convID, IsTyping: false})

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		o.observer.ObserveCompletion(o.provider.Name(), "stream", "error", time.Since(start))
		o.log.Warn().Err(err).Str("conversation_id", convID).Msg("AI stream failed")
		send(StreamEvent{Type: StreamEventError, Err: o.providerError(ctx, err)})
	}

	var (
		content      strings.Builder
		usage        Usage
		finishReason string
	)
	for {
		select {
		case <-ctx.Done():
			o.observer.ObserveCompletion(o.provider.Name(), "stream", "cancelled", time.Since(start))
			o.log.Debug().Str("conversation_id", convID).Msg("AI stream abandoned by client")
			return
		case chunk, ok := <-chunks:
			if ok && chunk.Err != nil {
				fail(chunk.Err)
				return
			}
			if ok && chunk.Content != "" {
				content.WriteString(chunk.Content)
				o.observer.ObserveChunk(o.provider.Name())
				o.broadcaster.EmitToRoom(room, realtime.EventAIStream, realtime.AIStreamPayload{ConversationID: convID, Content: chunk.Content})
				if !send(StreamEvent{Type: StreamEventChunk, Content: chunk.Content}) {
					return
				}
			}
			if ok && chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if ok && chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
			if ok && !chunk.Done {
				continue
			}
			if ctx.Err() != nil {
				return
			}

			if strings.TrimSpace(content.String()) == "" {
				fail(errors.New("AI provider returned an empty response"))
				return
			}
			aiMessage, err := o.persistAIMessage(ctx, t, content.String(), o.provider.Model(), finishReason, usage)
			if err != nil {
				send(StreamEvent{Type: StreamEventError, Err: err})
				return
			}
			o.observer.ObserveCompletion(o.provider.Name(), "stream", "ok", time.Since(start))
			o.broadcaster.EmitToRoom(room, realtime.EventAIStream, realtime.AIStreamPayload{ConversationID: convID, Done: true})
			send(StreamEvent{Type: StreamEventComplete, Message: aiMessage})
			return
		}
	}
}

func (o *Orchestrator) persistAIMessage(ctx context.Context, t *turn, content, model, finishReason string, usage Usage) (*conversation.Message, error) {
	if model == "" {
		model = o.provider.Model()
	}
	metadata := map[string]any{
		"provider": o.provider.Name(),
		"model":    model,
		"usage": map[string]any{
			"promptTokens":     usage.PromptTokens,
			"completionTokens": usage.CompletionTokens,
			"totalTokens":      usage.TotalTokens,
		},
	}
	if finishReason != "" {
		metadata["finishReason"] = finishReason
	}
	if t.decision != nil && t.decision.FailedOpen {
		metadata["rateLimitFailedOpen"] = true
	}

	parent := t.userMessage.PublicID
	if runes := []rune(content); len(runes) > conversation.MaxContentLength {
		content = string(runes[:conversation.MaxContentLength])
		metadata["truncated"] = true
	}
	aiMessage, err := o.store.CreateMessage(ctx, conversation.CreateMessageInput{
		ConversationID:  t.conv.PublicID,
		Content:         content,
		Type:            conversation.MessageTypeText,
		Metadata:        metadata,
		IsAIResponse:    true,
		ParentMessageID: &parent,
	})
	if err != nil {
		return nil, err
	}
	o.broadcaster.EmitToRoom(realtime.ConversationRoom(t.conv.PublicID), realtime.EventMessageNew, aiMessage)
	return aiMessage, nil
}

func (o *Orchestrator) providerError(ctx context.Context, err error) error {
	if pe := platformerrors.GetPlatformError(err); pe != nil {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "AI provider timed out", err, "fa2f6c3d-a930-43de-8b2d-387aac2e2607")
	}
	return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "AI provider request failed", err, "2165b85d-8c69-4164-b3ba-0f3b6dbc7d12")
}
