package ratelimit

import (
	"context"
	"time"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
)

// Budget is a point allowance over a fixed window. When a consume exceeds the
// allowance the bucket is blocked for BlockDuration (if positive).
type Budget struct {
	Points        int
	Duration      time.Duration
	BlockDuration time.Duration
}

// Config holds the three AI budgets.
type Config struct {
	Tiers        map[identity.Role]Budget
	Global       Budget
	Conversation Budget
}

// TierFor returns the budget of role, falling back to the actor tier.
func (c Config) TierFor(role identity.Role) Budget {
	if b, ok := c.Tiers[role]; ok {
		return b
	}
	return c.Tiers[identity.RoleActor]
}

// BucketSpec identifies a bucket and its budget.
type BucketSpec struct {
	Key    string
	Budget Budget
}

// BucketState is a snapshot of a bucket after (or without) a consume.
type BucketState struct {
	Key       string        `json:"key"`
	Limit     int           `json:"limit"`
	Consumed  int           `json:"consumed"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"-"`
	Blocked   bool          `json:"blocked"`
}

// Exceeded reports whether the last consume went over the allowance.
func (s BucketState) Exceeded() bool {
	return s.Blocked || s.Consumed > s.Limit
}

// BucketStore is the ephemeral keyed store owning bucket counters. Each
// Consume is a single atomic operation.
type BucketStore interface {
	Consume(ctx context.Context, spec BucketSpec, points int) (BucketState, error)
	Get(ctx context.Context, spec BucketSpec) (BucketState, error)
	Delete(ctx context.Context, key string) error
}

// Bucket key builders.
func TierKey(role identity.Role, userID string) string {
	return "ai:tier:" + string(role) + ":" + userID
}

func ConversationKey(conversationID string) string {
	return "ai:conv:" + conversationID
}

const GlobalKey = "ai:global"
