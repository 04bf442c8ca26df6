package inference

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// BreakerObserver receives circuit breaker state; metrics implement it.
type BreakerObserver interface {
	ObserveBreakerState(name string, state float64)
	ObserveBreakerTransition(name, from, to string)
}

type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// BreakerProvider guards a provider with a circuit breaker. A stream counts
// as one call that succeeds when the provider finishes it.
type BreakerProvider struct {
	inner aichat.Provider
	cb    *gobreaker.TwoStepCircuitBreaker[struct{}]
	log   zerolog.Logger
}

func NewBreakerProvider(inner aichat.Provider, settings BreakerSettings, observer BreakerObserver, log zerolog.Logger) *BreakerProvider {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	name := "ai-" + inner.Name()
	log = log.With().Str("component", "circuit-breaker").Str("breaker", name).Logger()
	if observer != nil {
		observer.ObserveBreakerState(name, stateToFloat(gobreaker.StateClosed))
	}

	cb := gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			if observer != nil {
				observer.ObserveBreakerState(name, stateToFloat(to))
				observer.ObserveBreakerTransition(name, from.String(), to.String())
			}
		},
	})

	return &BreakerProvider{inner: inner, cb: cb, log: log}
}

func (b *BreakerProvider) Name() string  { return b.inner.Name() }
func (b *BreakerProvider) Model() string { return b.inner.Model() }

func (b *BreakerProvider) BreakerState() string {
	return b.cb.State().String()
}

func (b *BreakerProvider) allow(ctx context.Context) (func(bool), error) {
	done, err := b.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
				"AI provider is temporarily unavailable", err, "0a6e5e53-5b4d-40ab-b0b5-ac181f3a119d", map[string]any{"breaker": b.cb.State().String()})
		}
		return nil, err
	}
	return done, nil
}

// Ping probes the provider directly so health checks can observe recovery
// while the breaker is open.
func (b *BreakerProvider) Ping(ctx context.Context) error {
	return b.inner.Ping(ctx)
}

func (b *BreakerProvider) Complete(ctx context.Context, req aichat.CompletionRequest) (*aichat.Completion, error) {
	done, err := b.allow(ctx)
	if err != nil {
		return nil, err
	}
	completion, err := b.inner.Complete(ctx, req)
	done(successful(ctx, err))
	return completion, err
}

func (b *BreakerProvider) Stream(ctx context.Context, req aichat.CompletionRequest) (<-chan aichat.Chunk, error) {
	done, err := b.allow(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := b.inner.Stream(ctx, req)
	if err != nil {
		done(successful(ctx, err))
		return nil, err
	}

	out := make(chan aichat.Chunk)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if chunk.Err != nil {
				done(successful(ctx, chunk.Err))
				aichat.SendChunk(ctx, out, chunk)
				return
			}
			if chunk.Done {
				done(true)
				aichat.SendChunk(ctx, out, chunk)
				return
			}
			if !aichat.SendChunk(ctx, out, chunk) {
				// abandoned by the client; not a provider failure
				done(true)
				return
			}
		}
		done(ctx.Err() != nil)
	}()
	return out, nil
}

// successful treats caller cancellation as a success so client disconnects
// never trip the breaker.
func successful(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	return ctx.Err() != nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
