package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all environment backed configuration for the CastMatch service.
type Config struct {
	// Service settings
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"castmatch-api" json:"service_name"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development" json:"environment"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080" json:"http_port"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info" json:"log_level"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"console" json:"log_format" jsonschema:"enum=console,enum=json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" json:"shutdown_timeout"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s" json:"http_timeout"`
	EnableSwagger   bool          `env:"ENABLE_SWAGGER" envDefault:"true" json:"enable_swagger"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*" json:"cors_allowed_origins"`

	// Storage: "postgres" or "memory" (local development only)
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres" json:"storage_driver" jsonschema:"enum=postgres,enum=memory"`

	// PostgreSQL
	DatabaseURL       string        `env:"DB_POSTGRESQL_WRITE_DSN" json:"database_url"`
	DatabaseReadURL   string        `env:"DB_POSTGRESQL_READ1_DSN" json:"database_read_url"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25" json:"db_max_open_conns"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5" json:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m" json:"db_conn_max_lifetime"`
	AutoMigrate       bool          `env:"AUTO_MIGRATE" envDefault:"true" json:"auto_migrate"`

	// Redis (rate-limit buckets and cached context). Empty means in-process buckets.
	RedisURL       string `env:"REDIS_URL" json:"redis_url"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"castmatch" json:"redis_key_prefix"`

	// NATS relay fan-out between instances. Empty disables it.
	NATSURL           string `env:"NATS_URL" json:"nats_url"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"castmatch.relay" json:"nats_subject_prefix"`

	// Auth
	AuthJWTSecret       string        `env:"AUTH_JWT_SECRET" json:"-"`
	AuthIssuer          string        `env:"ISSUER" json:"issuer"`
	AuthAudience        string        `env:"AUDIENCE" json:"audience"`
	JWKSURL             string        `env:"JWKS_URL" json:"jwks_url"`
	JWKSRefreshInterval time.Duration `env:"JWKS_REFRESH_INTERVAL" envDefault:"5m" json:"jwks_refresh_interval"`
	AuthRoleClaim       string        `env:"AUTH_ROLE_CLAIM" envDefault:"role" json:"auth_role_claim"`
	TrustGatewayHeaders bool          `env:"AUTH_TRUST_GATEWAY_HEADERS" envDefault:"false" json:"auth_trust_gateway_headers"`

	// AI provider
	AIProvider      string        `env:"AI_PROVIDER" envDefault:"echo" json:"ai_provider" jsonschema:"enum=openai,enum=anthropic,enum=echo"`
	AIModel         string        `env:"AI_MODEL" envDefault:"gpt-4o-mini" json:"ai_model"`
	AIBaseURL       string        `env:"AI_BASE_URL" json:"ai_base_url"`
	AIAPIKey        string        `env:"AI_API_KEY" json:"-"`
	AIMaxTokens     int           `env:"AI_MAX_TOKENS" envDefault:"1024" json:"ai_max_tokens"`
	AITemperature   float32       `env:"AI_TEMPERATURE" envDefault:"0.7" json:"ai_temperature"`
	AITimeout       time.Duration `env:"AI_TIMEOUT" envDefault:"60s" json:"ai_timeout"`
	AISystemPrompt  string        `env:"AI_SYSTEM_PROMPT" envDefault:"You are CastMatch's assistant. Help casting directors, producers and actors with auditions, roles and scripts." json:"ai_system_prompt"`
	AIHistoryLimit  int           `env:"AI_HISTORY_LIMIT" envDefault:"20" json:"ai_history_limit"`
	BreakerFailures uint32        `env:"AI_BREAKER_FAILURES" envDefault:"5" json:"ai_breaker_failures"`
	BreakerTimeout  time.Duration `env:"AI_BREAKER_TIMEOUT" envDefault:"30s" json:"ai_breaker_timeout"`
	SummaryCacheTTL time.Duration `env:"AI_SUMMARY_CACHE_TTL" envDefault:"10m" json:"ai_summary_cache_ttl"`
	SummaryCacheMax int           `env:"AI_SUMMARY_CACHE_SIZE" envDefault:"4096" json:"ai_summary_cache_size"`
	HealthInterval  int           `env:"AI_HEALTH_INTERVAL_MINUTES" envDefault:"1" json:"ai_health_interval_minutes"`

	// AI rate limits
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_" json:"rate_limit"`

	// Relay
	TypingTTL         time.Duration `env:"RELAY_TYPING_TTL" envDefault:"5s" json:"relay_typing_ttl"`
	PresenceGrace     time.Duration `env:"RELAY_PRESENCE_GRACE" envDefault:"10s" json:"relay_presence_grace"`
	HistoryOnJoin     int           `env:"RELAY_HISTORY_ON_JOIN" envDefault:"50" json:"relay_history_on_join"`
	WSAllowedOrigins  []string      `env:"RELAY_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*" json:"relay_allowed_origins"`
	WSEventsPerSecond float64       `env:"RELAY_EVENTS_PER_SECOND" envDefault:"20" json:"relay_events_per_second"`
	WSEventBurst      int           `env:"RELAY_EVENT_BURST" envDefault:"40" json:"relay_event_burst"`

	// OpenTelemetry
	EnableTracing bool   `env:"OTEL_ENABLED" envDefault:"false" json:"otel_enabled"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" json:"otel_exporter_otlp_endpoint"`
}

// RateLimitConfig holds the three AI budgets plus the general HTTP limiter.
type RateLimitConfig struct {
	ActorPoints           int           `env:"ACTOR_POINTS" envDefault:"10" json:"actor_points"`
	ProducerPoints        int           `env:"PRODUCER_POINTS" envDefault:"30" json:"producer_points"`
	CastingDirectorPoints int           `env:"CASTING_DIRECTOR_POINTS" envDefault:"50" json:"casting_director_points"`
	AdminPoints           int           `env:"ADMIN_POINTS" envDefault:"100" json:"admin_points"`
	TierDuration          time.Duration `env:"TIER_DURATION" envDefault:"60s" json:"tier_duration"`
	TierBlockDuration     time.Duration `env:"TIER_BLOCK_DURATION" envDefault:"60s" json:"tier_block_duration"`
	TierFile              string        `env:"TIER_FILE" json:"tier_file"`

	GlobalPoints   int           `env:"GLOBAL_POINTS" envDefault:"10000" json:"global_points"`
	GlobalDuration time.Duration `env:"GLOBAL_DURATION" envDefault:"24h" json:"global_duration"`

	ConversationPoints   int           `env:"CONVERSATION_POINTS" envDefault:"100" json:"conversation_points"`
	ConversationDuration time.Duration `env:"CONVERSATION_DURATION" envDefault:"1h" json:"conversation_duration"`

	HTTPRequestsPerSecond float64 `env:"HTTP_RPS" envDefault:"20" json:"http_rps"`
	HTTPBurst             int     `env:"HTTP_BURST" envDefault:"40" json:"http_burst"`

	Tiers map[string]Tier `env:"-" json:"-"`
}

// Load parses environment variables into Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	tiers := cfg.RateLimit.defaultTiers()
	if path := strings.TrimSpace(cfg.RateLimit.TierFile); path != "" {
		overrides, err := LoadTierFile(path)
		if err != nil {
			return nil, fmt.Errorf("load rate limit tiers: %w", err)
		}
		for role, tier := range overrides {
			tiers[role] = tier
		}
	}
	cfg.RateLimit.Tiers = tiers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DB_POSTGRESQL_WRITE_DSN is required")
		}
	case "memory":
		if c.IsProduction() {
			return errors.New("STORAGE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.AuthJWTSecret == "" && c.JWKSURL == "" && !c.TrustGatewayHeaders {
		return errors.New("one of AUTH_JWT_SECRET, JWKS_URL or AUTH_TRUST_GATEWAY_HEADERS must be set")
	}
	if c.JWKSURL != "" {
		if _, err := url.ParseRequestURI(c.JWKSURL); err != nil {
			return fmt.Errorf("invalid JWKS_URL: %w", err)
		}
	}
	switch c.AIProvider {
	case "openai", "anthropic":
		if c.AIAPIKey == "" {
			return fmt.Errorf("AI_API_KEY is required for provider %q", c.AIProvider)
		}
	case "echo":
	default:
		return fmt.Errorf("unsupported AI_PROVIDER %q", c.AIProvider)
	}
	if c.AIHistoryLimit < 0 {
		return errors.New("AI_HISTORY_LIMIT must not be negative")
	}
	for role, tier := range c.RateLimit.Tiers {
		if tier.Points <= 0 || tier.Duration <= 0 {
			return fmt.Errorf("rate limit tier %q needs positive points and duration", role)
		}
	}
	if c.RateLimit.GlobalPoints <= 0 || c.RateLimit.ConversationPoints <= 0 {
		return errors.New("global and conversation rate limit points must be positive")
	}
	return nil
}

// Addr returns the HTTP server address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
