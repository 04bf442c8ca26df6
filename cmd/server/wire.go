//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/config"
	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/infrastructure/auth"
	"github.com/castmatch/castmatch-server/internal/infrastructure/metrics"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/middlewares"
	v1 "github.com/castmatch/castmatch-server/internal/interfaces/httpserver/routes/v1"
)

// ProviderSet is the wire provider set for the application.
var ProviderSet = wire.NewSet(
	// Infrastructure providers
	metrics.NewRecorder,
	ProvideStorage,
	ProvideRedis,
	ProvideBucketStore,
	ProvideSummaryKV,
	ProvideSummaryCache,
	ProvideHub,
	ProvideNATSBridge,
	ProvideTokenValidator,
	ProvideHTTPLimiter,
	ProvideCrontab,

	// Domain providers
	ProvideConversationService,
	ProvideLimiter,
	ProvideOrchestrator,

	// Interface providers
	ProvideConversationHandler,
	ProvideAIHandler,
	ProvideRelayHandler,
	ProvideMiddlewareValidator,
	ProvideReadiness,
	v1.RouteProvider,
	httpserver.NewHTTPServer,

	// Application
	NewApplication,
)

func ProvideConversationService(storage *Storage) *conversation.ConversationService {
	return conversation.NewConversationService(storage.Conversations, storage.Messages)
}

func ProvideMiddlewareValidator(v *auth.Validator) middlewares.TokenValidator {
	return tokenValidator(v)
}

// CreateApplication creates the application with all dependencies wired.
func CreateApplication(
	ctx context.Context,
	cfg *config.Config,
	log zerolog.Logger,
) (*Application, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
