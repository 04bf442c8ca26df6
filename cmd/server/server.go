package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/castmatch/castmatch-server/internal/config"
	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/infrastructure/crontab"
	"github.com/castmatch/castmatch-server/internal/infrastructure/logger"
	"github.com/castmatch/castmatch-server/internal/infrastructure/metrics"
	"github.com/castmatch/castmatch-server/internal/infrastructure/observability"
	"github.com/castmatch/castmatch-server/internal/infrastructure/relay"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver"
	v1 "github.com/castmatch/castmatch-server/internal/interfaces/httpserver/routes/v1"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/routes/v1/admin"
	routeconversation "github.com/castmatch/castmatch-server/internal/interfaces/httpserver/routes/v1/conversation"
)

// Application holds the long running components.
type Application struct {
	httpServer *httpserver.HTTPServer
	hub        *relay.Hub
	crontab    *crontab.Crontab
	bridge     *relay.NATSBridge
	log        zerolog.Logger
}

func NewApplication(
	httpServer *httpserver.HTTPServer,
	hub *relay.Hub,
	crontab *crontab.Crontab,
	bridge *relay.NATSBridge,
	log zerolog.Logger,
) *Application {
	return &Application{
		httpServer: httpServer,
		hub:        hub,
		crontab:    crontab,
		bridge:     bridge,
		log:        log,
	}
}

// Start runs the HTTP server, relay hub and cron jobs until ctx is cancelled
// or one of them fails.
func (a *Application) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.httpServer.Run(gctx)
	})
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.crontab.Run(gctx)
	})

	err := g.Wait()

	if a.bridge != nil {
		if closeErr := a.bridge.Close(); closeErr != nil {
			a.log.Warn().Err(closeErr).Msg("failed to drain relay bridge")
		}
	}
	return err
}

// @title CastMatch Conversation API
// @version 1.0
// @description Conversations, messages, AI assistant replies and the real-time relay for CastMatch.
// @contact.name CastMatch Team
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	config.LoadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logger: %v\n", err)
		os.Exit(1)
	}
	log = log.With().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	app, cleanup, err := buildApplication(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}
	defer cleanup()

	log.Info().
		Str("service", cfg.ServiceName).
		Int("port", cfg.HTTPPort).
		Str("environment", cfg.Environment).
		Str("storage", cfg.StorageDriver).
		Str("ai_provider", cfg.AIProvider).
		Msg("starting application")

	if err := app.Start(ctx); err != nil {
		log.Error().Err(err).Msg("application stopped with error")
		return
	}

	log.Info().Msg("application exited cleanly")
}

// buildApplication wires every component by hand, mirroring the wire
// provider set in wire.go.
func buildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, func(), error) {
	recorder := metrics.NewRecorder()

	storage, err := ProvideStorage(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	redisCache, err := ProvideRedis(ctx, cfg, log)
	if err != nil {
		_ = storage.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	validator, err := ProvideTokenValidator(ctx, cfg, log)
	if err != nil {
		_ = storage.Close()
		return nil, nil, fmt.Errorf("configure auth: %w", err)
	}

	service := conversation.NewConversationService(storage.Conversations, storage.Messages)
	buckets := ProvideBucketStore(redisCache)
	kv := ProvideSummaryKV(cfg, redisCache)
	limiter := ProvideLimiter(cfg, buckets, recorder, log)
	summaries := ProvideSummaryCache(cfg, kv, log)
	hub := ProvideHub(cfg, recorder, log)

	orchestrator, err := ProvideOrchestrator(cfg, service, limiter, summaries, hub, recorder, log)
	if err != nil {
		_ = storage.Close()
		return nil, nil, fmt.Errorf("configure AI provider: %w", err)
	}

	bridge, err := ProvideNATSBridge(cfg, hub, log)
	if err != nil {
		_ = storage.Close()
		return nil, nil, err
	}

	aiHandler := ProvideAIHandler(orchestrator, limiter, log)
	v1Route := v1.NewV1Route(
		routeconversation.NewConversationRoute(
			ProvideConversationHandler(service, hub),
			routeconversation.NewAIRoute(aiHandler),
		),
		admin.NewAdminRoute(aiHandler),
	)
	httpLimiter := ProvideHTTPLimiter(cfg)
	server := httpserver.NewHTTPServer(
		cfg,
		log,
		v1Route,
		ProvideRelayHandler(cfg, hub, service, orchestrator, validator, log),
		tokenValidator(validator),
		httpLimiter,
		ProvideReadiness(storage, redisCache),
	)
	cron := ProvideCrontab(cfg, orchestrator, redisCache, buckets, httpLimiter, log)

	cleanup := func() {
		if validator != nil {
			validator.Close()
		}
		if redisCache != nil {
			if err := redisCache.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close redis")
			}
		}
		if err := storage.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}

	return NewApplication(server, hub, cron, bridge, log), cleanup, nil
}

