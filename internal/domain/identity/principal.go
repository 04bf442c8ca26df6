package identity

import (
	"context"
	"strings"
)

// Role is the caller's CastMatch role; it selects the AI rate-limit tier.
type Role string

const (
	RoleActor           Role = "actor"
	RoleProducer        Role = "producer"
	RoleCastingDirector Role = "casting_director"
	RoleAdmin           Role = "admin"
)

// ParseRole normalizes a role claim. Unknown or empty roles fall back to actor,
// the most restrictive tier.
func ParseRole(raw string) Role {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch Role(normalized) {
	case RoleProducer, RoleCastingDirector, RoleAdmin:
		return Role(normalized)
	default:
		return RoleActor
	}
}

// Principal captures normalized caller identity independent of auth mechanism.
type Principal struct {
	ID    string
	Role  Role
	Email string
	Name  string
}

// IsAdmin reports whether the principal may use administrative operations.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type principalKey struct{}

// WithPrincipal attaches the principal to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.ID != ""
}
