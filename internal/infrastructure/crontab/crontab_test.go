package crontab

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
)

type countingSweeper struct{ calls int }

func (s *countingSweeper) Sweep() int {
	s.calls++
	return 2
}

type stubProber struct{ calls atomic.Int32 }

func (p *stubProber) Health(context.Context) aichat.HealthReport {
	p.calls.Add(1)
	return aichat.HealthReport{Provider: "echo", Healthy: true}
}

type stubLocker struct {
	acquire bool
	err     error
	names   []string
}

func (l *stubLocker) WithLock(ctx context.Context, name string, _ time.Duration, fn func(context.Context) error) (bool, error) {
	l.names = append(l.names, name)
	if l.err != nil {
		return false, l.err
	}
	if !l.acquire {
		return false, nil
	}
	return true, fn(ctx)
}

func TestRunJob_ExclusiveRespectsLock(t *testing.T) {
	prober := &stubProber{}
	locker := &stubLocker{acquire: false}
	c := NewCrontab(prober, 0, zerolog.Nop()).WithLocker(locker)
	assert.Equal(t, DefaultHealthInterval, c.healthInterval)

	run := func(ctx context.Context) error {
		c.probeProvider(ctx)
		return nil
	}
	c.runJob("provider-health", true, run)
	assert.EqualValues(t, 0, prober.calls.Load())
	assert.Equal(t, []string{"cron:provider-health"}, locker.names)

	locker.acquire = true
	c.runJob("provider-health", true, run)
	assert.EqualValues(t, 1, prober.calls.Load())
}

func TestRunJob_NonExclusiveIgnoresLock(t *testing.T) {
	locker := &stubLocker{err: errors.New("redis down")}
	c := NewCrontab(nil, 1, zerolog.Nop()).WithLocker(locker)

	ran := false
	c.runJob("sweep", false, func(context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
	assert.Empty(t, locker.names)
}

func TestSweepVisitsEveryStore(t *testing.T) {
	buckets := &countingSweeper{}
	summaries := &countingSweeper{}
	c := NewCrontab(nil, 1, zerolog.Nop()).
		AddSweeper("buckets", buckets).
		AddSweeper("summaries", summaries).
		AddSweeper("nil", nil)

	c.sweep()
	assert.Equal(t, 1, buckets.calls)
	assert.Equal(t, 1, summaries.calls)
	assert.Len(t, c.sweepers, 2)
}

func TestRun_ProbesOnStartAndStopsWithContext(t *testing.T) {
	prober := &stubProber{}
	c := NewCrontab(prober, 5, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return prober.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("crontab did not stop")
	}
}
