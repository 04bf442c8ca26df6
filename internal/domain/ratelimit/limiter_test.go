package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

type countingStore struct {
	mu       sync.Mutex
	consumed map[string]int
	resetIn  time.Duration
	failKeys map[string]bool
}

func newCountingStore() *countingStore {
	return &countingStore{consumed: map[string]int{}, resetIn: 42 * time.Second, failKeys: map[string]bool{}}
}

func (s *countingStore) Consume(_ context.Context, spec ratelimit.BucketSpec, points int) (ratelimit.BucketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys[spec.Key] {
		return ratelimit.BucketState{}, errors.New("connection refused")
	}
	s.consumed[spec.Key] += points
	return s.state(spec), nil
}

func (s *countingStore) Get(_ context.Context, spec ratelimit.BucketSpec) (ratelimit.BucketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(spec), nil
}

func (s *countingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumed, key)
	return nil
}

func (s *countingStore) state(spec ratelimit.BucketSpec) ratelimit.BucketState {
	consumed := s.consumed[spec.Key]
	remaining := spec.Budget.Points - consumed
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.BucketState{
		Key:       spec.Key,
		Limit:     spec.Budget.Points,
		Consumed:  consumed,
		Remaining: remaining,
		ResetIn:   s.resetIn,
	}
}

func testConfig() ratelimit.Config {
	return ratelimit.Config{
		Tiers: map[identity.Role]ratelimit.Budget{
			identity.RoleActor:    {Points: 10, Duration: time.Minute, BlockDuration: time.Minute},
			identity.RoleProducer: {Points: 30, Duration: time.Minute, BlockDuration: time.Minute},
		},
		Global:       ratelimit.Budget{Points: 10000, Duration: 24 * time.Hour},
		Conversation: ratelimit.Budget{Points: 100, Duration: time.Hour},
	}
}

func TestCheckRejectsEleventhActorRequest(t *testing.T) {
	store := newCountingStore()
	limiter := ratelimit.NewLimiter(store, testConfig(), zerolog.Nop())
	actor := identity.Principal{ID: "u1", Role: identity.RoleActor}

	for i := 0; i < 10; i++ {
		decision, err := limiter.Check(context.Background(), actor, "conv_a")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 10, decision.Limit)
		assert.Equal(t, 9-i, decision.Remaining)
	}

	decision, err := limiter.Check(context.Background(), actor, "conv_a")
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeRateLimited))
	assert.False(t, decision.Allowed)
	assert.Equal(t, 42, decision.RetryAfter)
	assert.Equal(t, []string{"tier"}, decision.Exceeded)
	assert.Equal(t, 42, platformerrors.GetPlatformError(err).RetryAfter())
}

func TestCheckUsesRoleTier(t *testing.T) {
	store := newCountingStore()
	limiter := ratelimit.NewLimiter(store, testConfig(), zerolog.Nop())
	producer := identity.Principal{ID: "u2", Role: identity.RoleProducer}

	for i := 0; i < 30; i++ {
		_, err := limiter.Check(context.Background(), producer, "conv_b")
		require.NoError(t, err)
	}
	_, err := limiter.Check(context.Background(), producer, "conv_b")
	assert.Error(t, err)
}

func TestCheckConversationBucketIsShared(t *testing.T) {
	store := newCountingStore()
	cfg := testConfig()
	cfg.Conversation.Points = 3
	limiter := ratelimit.NewLimiter(store, cfg, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(context.Background(), identity.Principal{ID: "user" + string(rune('a'+i)), Role: identity.RoleActor}, "conv_shared")
		require.NoError(t, err)
	}
	decision, err := limiter.Check(context.Background(), identity.Principal{ID: "other", Role: identity.RoleActor}, "conv_shared")
	require.Error(t, err)
	assert.Equal(t, []string{"conversation"}, decision.Exceeded)
	// the rejected caller still has tier budget left
	assert.Equal(t, 9, decision.Remaining)
}

func TestCheckFailsOpen(t *testing.T) {
	store := newCountingStore()
	store.failKeys[ratelimit.GlobalKey] = true
	store.failKeys[ratelimit.TierKey(identity.RoleActor, "u1")] = true
	limiter := ratelimit.NewLimiter(store, testConfig(), zerolog.Nop())

	decision, err := limiter.Check(context.Background(), identity.Principal{ID: "u1", Role: identity.RoleActor}, "conv_a")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.FailedOpen)
	assert.Equal(t, 10, decision.Limit)
}

func TestCheckConcurrentCallersNeverOverConsume(t *testing.T) {
	store := newCountingStore()
	limiter := ratelimit.NewLimiter(store, testConfig(), zerolog.Nop())
	actor := identity.Principal{ID: "u1", Role: identity.RoleActor}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := limiter.Check(context.Background(), actor, "conv_a"); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestStatusAndReset(t *testing.T) {
	store := newCountingStore()
	limiter := ratelimit.NewLimiter(store, testConfig(), zerolog.Nop())
	actor := identity.Principal{ID: "u1", Role: identity.RoleActor}

	for i := 0; i < 4; i++ {
		_, err := limiter.Check(context.Background(), actor, "conv_a")
		require.NoError(t, err)
	}

	status, err := limiter.Status(context.Background(), "u1", identity.RoleActor)
	require.NoError(t, err)
	assert.Equal(t, 4, status.Tier.Consumed)
	assert.Equal(t, 6, status.Tier.Remaining)
	assert.Equal(t, 10000, status.Global.Limit)

	require.NoError(t, limiter.Reset(context.Background(), "u1", identity.RoleActor))
	status, err = limiter.Status(context.Background(), "u1", identity.RoleActor)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Tier.Consumed)
	assert.Equal(t, 10, status.Tier.Remaining)
}

func TestTierForFallsBackToActor(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 10, cfg.TierFor(identity.Role("unknown")).Points)
}
