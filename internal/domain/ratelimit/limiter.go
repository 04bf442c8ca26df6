package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// Decision is the outcome of a limiter check. Limit, Remaining and ResetAt
// describe the caller's tier bucket and feed the X-RateLimit-* headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
	FailedOpen bool
	Exceeded   []string
}

// Observer receives limiter outcomes; metrics implement it.
type Observer interface {
	ObserveDecision(bucket string, allowed bool)
	ObserveFailOpen(bucket string)
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(string, bool) {}
func (nopObserver) ObserveFailOpen(string)       {}

// Limiter guards AI provider calls with the tier, global and conversation budgets.
type Limiter struct {
	store    BucketStore
	cfg      Config
	log      zerolog.Logger
	observer Observer
	now      func() time.Time
}

func NewLimiter(store BucketStore, cfg Config, log zerolog.Logger) *Limiter {
	return &Limiter{
		store:    store,
		cfg:      cfg,
		log:      log.With().Str("component", "ai-rate-limiter").Logger(),
		observer: nopObserver{},
		now:      time.Now,
	}
}

// WithObserver attaches an outcome observer.
func (l *Limiter) WithObserver(o Observer) *Limiter {
	if o != nil {
		l.observer = o
	}
	return l
}

type bucketResult struct {
	name  string
	spec  BucketSpec
	state BucketState
	err   error
}

// Check consumes one point from each of the three buckets concurrently. If
// any bucket is exhausted it returns a RATE_LIMIT_EXCEEDED error together with
// the decision. Bucket store failures are logged and the check fails open.
func (l *Limiter) Check(ctx context.Context, principal identity.Principal, conversationID string) (*Decision, error) {
	results := []*bucketResult{
		{name: "tier", spec: BucketSpec{Key: TierKey(principal.Role, principal.ID), Budget: l.cfg.TierFor(principal.Role)}},
		{name: "global", spec: BucketSpec{Key: GlobalKey, Budget: l.cfg.Global}},
		{name: "conversation", spec: BucketSpec{Key: ConversationKey(conversationID), Budget: l.cfg.Conversation}},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range results {
		r := r
		g.Go(func() error {
			r.state, r.err = l.store.Consume(gctx, r.spec, 1)
			return nil
		})
	}
	_ = g.Wait()

	now := l.now()
	decision := &Decision{Allowed: true}
	minWait := time.Duration(math.MaxInt64)

	for _, r := range results {
		if r.err != nil {
			decision.FailedOpen = true
			l.observer.ObserveFailOpen(r.name)
			l.log.Warn().Err(r.err).Str("bucket", r.name).Str("key", r.spec.Key).Msg("rate limit store unavailable, failing open")
			if r.name == "tier" {
				decision.Limit = r.spec.Budget.Points
				decision.Remaining = r.spec.Budget.Points
				decision.ResetAt = now.Add(r.spec.Budget.Duration)
			}
			continue
		}

		if r.name == "tier" {
			decision.Limit = r.state.Limit
			decision.Remaining = r.state.Remaining
			decision.ResetAt = now.Add(r.state.ResetIn)
		}

		exceeded := r.state.Exceeded()
		l.observer.ObserveDecision(r.name, !exceeded)
		if exceeded {
			decision.Allowed = false
			decision.Exceeded = append(decision.Exceeded, r.name)
			if r.state.ResetIn < minWait {
				minWait = r.state.ResetIn
			}
		}
	}

	if decision.Allowed {
		return decision, nil
	}

	decision.RetryAfter = retryAfterSeconds(minWait)
	l.log.Info().
		Str("user_id", principal.ID).
		Str("role", string(principal.Role)).
		Str("conversation_id", conversationID).
		Strs("buckets", decision.Exceeded).
		Int("retry_after", decision.RetryAfter).
		Msg("AI rate limit exceeded")

	return decision, platformerrors.NewRateLimitedError(ctx, platformerrors.LayerDomain,
		"Too many AI requests. Please try again later.", decision.RetryAfter, "410f2c4d-62b4-4a51-a77e-fcf3e5c223fc")
}

// Status reports the caller's tier and the global bucket without consuming.
type Status struct {
	Role   identity.Role `json:"role"`
	Tier   BucketView    `json:"tier"`
	Global BucketView    `json:"global"`
}

// BucketView is the API representation of a bucket.
type BucketView struct {
	Limit     int       `json:"limit"`
	Consumed  int       `json:"consumed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	Blocked   bool      `json:"blocked"`
	Window    string    `json:"window"`
}

func (l *Limiter) Status(ctx context.Context, userID string, role identity.Role) (*Status, error) {
	tierSpec := BucketSpec{Key: TierKey(role, userID), Budget: l.cfg.TierFor(role)}
	globalSpec := BucketSpec{Key: GlobalKey, Budget: l.cfg.Global}

	tier, err := l.store.Get(ctx, tierSpec)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "Rate limit store unavailable", err, "5f1e9a67-9052-454b-b7b0-fca57234b8b5")
	}
	global, err := l.store.Get(ctx, globalSpec)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "Rate limit store unavailable", err, "317442d1-321d-43c2-9d90-d73512b67b57")
	}

	now := l.now()
	return &Status{
		Role:   role,
		Tier:   l.view(tier, tierSpec, now),
		Global: l.view(global, globalSpec, now),
	}, nil
}

// Reset clears the user's tier bucket, including any block.
func (l *Limiter) Reset(ctx context.Context, userID string, role identity.Role) error {
	key := TierKey(role, userID)
	if err := l.store.Delete(ctx, key); err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "Rate limit store unavailable", err, "1378b314-d6f9-48a4-b3b5-b8bf9b5d8eff")
	}
	l.log.Info().Str("user_id", userID).Str("role", string(role)).Msg("AI rate limit reset")
	return nil
}

func (l *Limiter) view(state BucketState, spec BucketSpec, now time.Time) BucketView {
	resetIn := state.ResetIn
	if state.Consumed == 0 && !state.Blocked {
		resetIn = 0
	}
	return BucketView{
		Limit:     spec.Budget.Points,
		Consumed:  state.Consumed,
		Remaining: state.Remaining,
		ResetAt:   now.Add(resetIn),
		Blocked:   state.Blocked,
		Window:    spec.Budget.Duration.String(),
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 || d == time.Duration(math.MaxInt64) {
		return 1
	}
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
