package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// KV is the byte store behind SummaryCache; RedisCache and MemoryCache implement it.
type KV interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type summaryEntry struct {
	Summary     string    `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SummaryCache stores generated conversation summaries keyed by conversation
// and message count, so a new message naturally invalidates the entry.
type SummaryCache struct {
	kv  KV
	ttl time.Duration
	log zerolog.Logger
}

func NewSummaryCache(kv KV, ttl time.Duration, log zerolog.Logger) *SummaryCache {
	return &SummaryCache{kv: kv, ttl: ttl, log: log.With().Str("component", "summary-cache").Logger()}
}

func summaryKey(conversationID string, messageCount int) string {
	return "summary:" + conversationID + ":" + strconv.Itoa(messageCount)
}

func (c *SummaryCache) GetSummary(ctx context.Context, conversationID string, messageCount int) (string, bool) {
	raw, err := c.kv.Get(ctx, summaryKey(conversationID, messageCount))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("summary cache read failed")
		}
		return "", false
	}
	var entry summaryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("discarding malformed summary entry")
		return "", false
	}
	return entry.Summary, true
}

func (c *SummaryCache) SetSummary(ctx context.Context, conversationID string, messageCount int, summary string) {
	raw, err := json.Marshal(summaryEntry{Summary: summary, GeneratedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, summaryKey(conversationID, messageCount), raw, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("summary cache write failed")
	}
}
