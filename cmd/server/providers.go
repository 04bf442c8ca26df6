package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"github.com/castmatch/castmatch-server/internal/config"
	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
	"github.com/castmatch/castmatch-server/internal/infrastructure/auth"
	"github.com/castmatch/castmatch-server/internal/infrastructure/cache"
	"github.com/castmatch/castmatch-server/internal/infrastructure/crontab"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database/repository/conversationrepo"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database/transaction"
	"github.com/castmatch/castmatch-server/internal/infrastructure/inference"
	"github.com/castmatch/castmatch-server/internal/infrastructure/metrics"
	"github.com/castmatch/castmatch-server/internal/infrastructure/relay"
	"github.com/castmatch/castmatch-server/internal/infrastructure/store"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/handlers/aihandler"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/handlers/conversationhandler"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/handlers/relayhandler"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/middlewares"
)

// Storage bundles the repositories and the readiness probe of the selected
// storage driver.
type Storage struct {
	Conversations conversation.ConversationRepository
	Messages      conversation.MessageRepository
	Ready         httpserver.ReadinessProbe
	Close         func() error
}

// ProvideStorage opens postgres (running migrations when enabled) or the
// in-memory store.
func ProvideStorage(cfg *config.Config, log zerolog.Logger) (*Storage, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn().Msg("using in-memory storage; data is lost on restart")
		mem := store.NewMemoryStore(log)
		return &Storage{
			Conversations: mem,
			Messages:      mem.Messages(),
			Close:         func() error { return nil },
		}, nil
	}

	if cfg.AutoMigrate {
		if err := database.AutoMigrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	db, err := database.Connect(database.Config{
		DatabaseURL: cfg.DatabaseURL,
		ReadURL:     cfg.DatabaseReadURL,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
		LogLevel:    gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	tx := transaction.NewDatabase(db)
	return &Storage{
		Conversations: conversationrepo.NewConversationGormRepository(tx),
		Messages:      conversationrepo.NewMessageGormRepository(tx),
		Ready:         func(ctx context.Context) error { return database.Ping(ctx, db) },
		Close:         func() error { return database.Close(db) },
	}, nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug", "trace":
		return gormlogger.Info
	case "error", "fatal", "panic":
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}

// ProvideRedis connects to Redis when REDIS_URL is set; nil otherwise.
func ProvideRedis(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*cache.RedisCache, error) {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set; rate-limit buckets and summaries are kept in process")
		return nil, nil
	}
	return cache.NewRedisCache(ctx, cfg.RedisURL, cfg.RedisKeyPrefix, log)
}

// ProvideBucketStore selects Redis buckets when available, process memory otherwise.
func ProvideBucketStore(redisCache *cache.RedisCache) ratelimit.BucketStore {
	if redisCache != nil {
		return cache.NewRedisBucketStore(redisCache)
	}
	return cache.NewMemoryBucketStore()
}

// ProvideSummaryKV selects the byte store behind the summary cache.
func ProvideSummaryKV(cfg *config.Config, redisCache *cache.RedisCache) cache.KV {
	if redisCache != nil {
		return redisCache
	}
	return cache.NewMemoryCache(cfg.SummaryCacheMax, cfg.SummaryCacheTTL)
}

func ProvideLimiter(cfg *config.Config, buckets ratelimit.BucketStore, observer *metrics.Recorder, log zerolog.Logger) *ratelimit.Limiter {
	return ratelimit.NewLimiter(buckets, cfg.RateLimit.Budgets(), log).WithObserver(observer)
}

func ProvideSummaryCache(cfg *config.Config, kv cache.KV, log zerolog.Logger) *cache.SummaryCache {
	return cache.NewSummaryCache(kv, cfg.SummaryCacheTTL, log)
}

func ProvideHub(cfg *config.Config, observer *metrics.Recorder, log zerolog.Logger) *relay.Hub {
	return relay.NewHub(relay.Settings{
		TypingTTL:       cfg.TypingTTL,
		PresenceGrace:   cfg.PresenceGrace,
		EventsPerSecond: cfg.WSEventsPerSecond,
		EventBurst:      cfg.WSEventBurst,
	}, log).WithObserver(observer)
}

// ProvideNATSBridge connects the hub to NATS when NATS_URL is set.
func ProvideNATSBridge(cfg *config.Config, hub *relay.Hub, log zerolog.Logger) (*relay.NATSBridge, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	nc, err := relay.ConnectNATS(cfg.NATSURL, cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	bridge := relay.NewNATSBridge(nc, cfg.NATSSubjectPrefix, hub, log)
	if err := bridge.Start(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("start relay bridge: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("relay bridge connected to NATS")
	return bridge, nil
}

// ProvideOrchestrator wires the AI provider behind its breaker into the orchestrator.
func ProvideOrchestrator(
	cfg *config.Config,
	service *conversation.ConversationService,
	limiter *ratelimit.Limiter,
	summaries *cache.SummaryCache,
	hub *relay.Hub,
	observer *metrics.Recorder,
	log zerolog.Logger,
) (*aichat.Orchestrator, error) {
	provider, err := inference.NewProvider(cfg, observer, log)
	if err != nil {
		return nil, err
	}
	return aichat.NewOrchestrator(service, limiter, provider, aichat.Config{
		SystemPrompt: cfg.AISystemPrompt,
		HistoryLimit: cfg.AIHistoryLimit,
		MaxTokens:    cfg.AIMaxTokens,
		Temperature:  cfg.AITemperature,
	}, log).
		WithBroadcaster(hub).
		WithSummaryCache(summaries).
		WithObserver(observer), nil
}

// ProvideTokenValidator returns nil when only gateway headers are trusted.
func ProvideTokenValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*auth.Validator, error) {
	if cfg.AuthJWTSecret == "" && cfg.JWKSURL == "" {
		if !cfg.TrustGatewayHeaders {
			return nil, errors.New("no authentication configured")
		}
		return nil, nil
	}
	return auth.NewValidator(ctx, auth.Settings{
		Secret:       cfg.AuthJWTSecret,
		JWKSURL:      cfg.JWKSURL,
		Issuer:       cfg.AuthIssuer,
		Audience:     cfg.AuthAudience,
		RoleClaim:    cfg.AuthRoleClaim,
		RefreshEvery: cfg.JWKSRefreshInterval,
	}, log)
}

// tokenValidator avoids handing a typed nil to the middleware interfaces.
func tokenValidator(v *auth.Validator) middlewares.TokenValidator {
	if v == nil {
		return nil
	}
	return v
}

func ProvideRelayHandler(
	cfg *config.Config,
	hub *relay.Hub,
	service *conversation.ConversationService,
	orchestrator *aichat.Orchestrator,
	validator *auth.Validator,
	log zerolog.Logger,
) *relayhandler.RelayHandler {
	var tokens relayhandler.TokenValidator
	if validator != nil {
		tokens = validator
	}
	return relayhandler.NewRelayHandler(hub, service, orchestrator, tokens, relay.NewUpgrader(cfg.WSAllowedOrigins), cfg.HistoryOnJoin, log)
}

func ProvideConversationHandler(service *conversation.ConversationService, hub *relay.Hub) *conversationhandler.ConversationHandler {
	return conversationhandler.NewConversationHandler(service, hub)
}

func ProvideAIHandler(orchestrator *aichat.Orchestrator, limiter *ratelimit.Limiter, log zerolog.Logger) *aihandler.AIHandler {
	return aihandler.NewAIHandler(orchestrator, limiter, log)
}

func ProvideHTTPLimiter(cfg *config.Config) *middlewares.HTTPLimiter {
	if cfg.RateLimit.HTTPRequestsPerSecond <= 0 {
		return nil
	}
	return middlewares.NewHTTPLimiter(cfg.RateLimit.HTTPRequestsPerSecond, cfg.RateLimit.HTTPBurst)
}

// ProvideCrontab schedules the provider probe and sweeps whichever stores
// live in process memory.
func ProvideCrontab(
	cfg *config.Config,
	orchestrator *aichat.Orchestrator,
	redisCache *cache.RedisCache,
	buckets ratelimit.BucketStore,
	httpLimiter *middlewares.HTTPLimiter,
	log zerolog.Logger,
) *crontab.Crontab {
	c := crontab.NewCrontab(orchestrator, cfg.HealthInterval, log)
	if redisCache != nil {
		c.WithLocker(redisCache)
	}
	if s, ok := buckets.(crontab.Sweeper); ok {
		c.AddSweeper("rate_limit_buckets", s)
	}
	if httpLimiter != nil {
		c.AddSweeper("http_limiter", httpLimiter)
	}
	return c
}

// ProvideReadiness checks the database and, when configured, redis.
func ProvideReadiness(storage *Storage, redisCache *cache.RedisCache) httpserver.ReadinessProbe {
	return func(ctx context.Context) error {
		if storage.Ready != nil {
			if err := storage.Ready(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
		if redisCache != nil {
			if err := redisCache.HealthCheck(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
