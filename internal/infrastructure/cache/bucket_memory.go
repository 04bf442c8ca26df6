package cache

import (
	"context"
	"sync"
	"time"

	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
)

type memoryBucket struct {
	consumed     int
	windowEnd    time.Time
	blockedUntil time.Time
}

// MemoryBucketStore is the single-instance bucket store used when Redis is
// not configured.
type MemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	now     func() time.Time
}

func NewMemoryBucketStore() *MemoryBucketStore {
	return &MemoryBucketStore{buckets: make(map[string]*memoryBucket), now: time.Now}
}

// WithClock replaces the time source.
func (s *MemoryBucketStore) WithClock(now func() time.Time) *MemoryBucketStore {
	s.now = now
	return s
}

func (s *MemoryBucketStore) Consume(_ context.Context, spec ratelimit.BucketSpec, points int) (ratelimit.BucketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b := s.buckets[spec.Key]

	if b != nil && now.Before(b.blockedUntil) {
		return newBucketState(spec, b.consumed, b.blockedUntil.Sub(now), true), nil
	}
	if b == nil || !now.Before(b.windowEnd) {
		if points == 0 {
			return newBucketState(spec, 0, 0, false), nil
		}
		b = &memoryBucket{windowEnd: now.Add(spec.Budget.Duration)}
		s.buckets[spec.Key] = b
	}

	b.consumed += points
	if points > 0 && b.consumed > spec.Budget.Points && spec.Budget.BlockDuration > 0 {
		b.blockedUntil = now.Add(spec.Budget.BlockDuration)
		return newBucketState(spec, b.consumed, spec.Budget.BlockDuration, true), nil
	}
	return newBucketState(spec, b.consumed, b.windowEnd.Sub(now), false), nil
}

func (s *MemoryBucketStore) Get(ctx context.Context, spec ratelimit.BucketSpec) (ratelimit.BucketState, error) {
	return s.Consume(ctx, spec, 0)
}

func (s *MemoryBucketStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Sweep drops buckets whose window and block have both elapsed.
func (s *MemoryBucketStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, b := range s.buckets {
		if !now.Before(b.windowEnd) && !now.Before(b.blockedUntil) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (s *MemoryBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
