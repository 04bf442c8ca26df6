package config

import (
	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
)

// Budgets converts the configured tiers into limiter budgets.
func (r RateLimitConfig) Budgets() ratelimit.Config {
	tiers := r.Tiers
	if len(tiers) == 0 {
		tiers = r.defaultTiers()
	}
	out := ratelimit.Config{
		Tiers: make(map[identity.Role]ratelimit.Budget, len(tiers)),
		Global: ratelimit.Budget{
			Points:   r.GlobalPoints,
			Duration: r.GlobalDuration,
		},
		Conversation: ratelimit.Budget{
			Points:   r.ConversationPoints,
			Duration: r.ConversationDuration,
		},
	}
	for name, tier := range tiers {
		out.Tiers[identity.ParseRole(name)] = ratelimit.Budget{
			Points:        tier.Points,
			Duration:      tier.Duration,
			BlockDuration: tier.BlockDuration,
		}
	}
	return out
}
