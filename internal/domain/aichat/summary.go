package aichat

import (
	"context"
	"strings"
	"time"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
)

const summaryInstruction = "Summarize this casting conversation in at most three sentences. Mention roles, candidates and next steps when present."

// ConversationSummary aggregates message counts with an optional synopsis.
type ConversationSummary struct {
	ConversationID string     `json:"conversationId"`
	Title          string     `json:"title"`
	MessageCount   int64      `json:"messageCount"`
	UserMessages   int64      `json:"userMessages"`
	AIMessages     int64      `json:"aiMessages"`
	FirstMessageAt *time.Time `json:"firstMessageAt,omitempty"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	Synopsis       string     `json:"synopsis,omitempty"`
	Cached         bool       `json:"cached"`
}

// Summarize returns conversation statistics. The synopsis is served from the
// cache when fresh, otherwise generated under the caller's AI budget. A
// rejected or failed generation leaves the synopsis empty.
func (o *Orchestrator) Summarize(ctx context.Context, principal identity.Principal, conversationID string) (*ConversationSummary, error) {
	conv, stats, err := o.store.Stats(ctx, conversationID, principal.ID)
	if err != nil {
		return nil, err
	}

	summary := &ConversationSummary{
		ConversationID: conv.PublicID,
		Title:          conv.Title,
		MessageCount:   stats.Total,
		UserMessages:   stats.UserMessages,
		AIMessages:     stats.AIMessages,
		FirstMessageAt: stats.FirstMessageAt,
		LastMessageAt:  stats.LastMessageAt,
	}
	if stats.Total == 0 || o.summaries == nil {
		return summary, nil
	}

	if cached, ok := o.summaries.GetSummary(ctx, conv.PublicID, int(stats.Total)); ok {
		summary.Synopsis = cached
		summary.Cached = true
		return summary, nil
	}

	if _, err := o.limiter.Check(ctx, principal, conv.PublicID); err != nil {
		o.log.Debug().Err(err).Str("conversation_id", conv.PublicID).Msg("skipping synopsis")
		return summary, nil
	}

	history, err := o.store.RecentHistory(ctx, conv, o.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	prompt := BuildPrompt(summaryInstruction, conv, history)
	prompt = append(prompt, ChatMessage{Role: ChatRoleUser, Content: "Summarize the conversation above."})

	start := time.Now()
	completion, err := o.provider.Complete(ctx, CompletionRequest{
		Model:       o.provider.Model(),
		Messages:    prompt,
		MaxTokens:   256,
		Temperature: 0.2,
	})
	if err != nil {
		o.observer.ObserveCompletion(o.provider.Name(), "summary", "error", time.Since(start))
		o.log.Warn().Err(err).Str("conversation_id", conv.PublicID).Msg("synopsis generation failed")
		return summary, nil
	}
	o.observer.ObserveCompletion(o.provider.Name(), "summary", "ok", time.Since(start))

	summary.Synopsis = strings.TrimSpace(completion.Content)
	if summary.Synopsis != "" {
		o.summaries.SetSummary(ctx, conv.PublicID, int(stats.Total), summary.Synopsis)
	}
	return summary, nil
}
