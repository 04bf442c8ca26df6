package inference

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/config"
	"github.com/castmatch/castmatch-server/internal/domain/aichat"
)

// NewProvider builds the configured provider behind a circuit breaker.
func NewProvider(cfg *config.Config, observer BreakerObserver, log zerolog.Logger) (aichat.Provider, error) {
	var inner aichat.Provider
	switch cfg.AIProvider {
	case "openai":
		inner = NewOpenAIProvider(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, cfg.AITimeout, log)
	case "anthropic":
		inner = NewAnthropicProvider(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, cfg.AITimeout, log)
	case "echo", "":
		inner = NewEchoProvider(cfg.AIModel, 0)
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.AIProvider)
	}

	log.Info().Str("provider", inner.Name()).Str("model", inner.Model()).Msg("AI provider configured")
	return NewBreakerProvider(inner, BreakerSettings{
		ConsecutiveFailures: cfg.BreakerFailures,
		OpenTimeout:         cfg.BreakerTimeout,
	}, observer, log), nil
}
