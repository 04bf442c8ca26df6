package conversation

import (
	"github.com/gin-gonic/gin"

	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/handlers/aihandler"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/requests"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/responses"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

type AIRoute struct {
	handler *aihandler.AIHandler
}

func NewAIRoute(handler *aihandler.AIHandler) *AIRoute {
	return &AIRoute{handler: handler}
}

// RegisterStaticRoutes mounts the /conversations/ai/* routes.
func (route *AIRoute) RegisterStaticRoutes(conversations gin.IRouter) {
	conversations.GET("/ai/health", route.health)
	conversations.GET("/ai/rate-limit", route.rateLimitStatus)
}

// RegisterConversationRoutes mounts the per-conversation AI routes.
func (route *AIRoute) RegisterConversationRoutes(conversations gin.IRouter) {
	conversations.POST("/:id/messages/ai", route.aiMessage)
	conversations.GET("/:id/summary", route.summary)
}

// aiMessage godoc
// @Summary Ask the AI assistant
// @Description Persists the user message and generates an AI reply. With `stream: true` the reply is sent as Server-Sent Events:
// @Description `user_message`, then `chunk` frames, then `complete` or `error`, terminated by `data: [DONE]`.
// @Description Rate-limit state is reported in X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
// @Tags AI API
// @Security BearerAuth
// @Accept json
// @Produce json
// @Produce text/event-stream
// @Param id path string true "Conversation ID"
// @Param request body requests.AIMessageRequest true "Prompt"
// @Success 200 {object} responses.Response "User message, AI response and token usage"
// @Failure 400 {object} responses.ErrorResponse "Invalid request body"
// @Failure 403 {object} responses.ErrorResponse "Not the owner"
// @Failure 429 {object} responses.ErrorResponse "AI rate limit exceeded"
// @Failure 502 {object} responses.ErrorResponse "AI provider unavailable"
// @Router /v1/conversations/{id}/messages/ai [post]
func (route *AIRoute) aiMessage(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	var req requests.AIMessageRequest
	if err := reqCtx.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "content is required", "8d00ca2e-8cbb-464a-be7f-dc74a8b3b56d")
		return
	}

	if req.Stream {
		route.handler.Stream(reqCtx, principal, reqCtx.Param("id"), req.Content)
		return
	}
	route.handler.Reply(reqCtx, principal, reqCtx.Param("id"), req.Content)
}

// summary godoc
// @Summary Conversation summary
// @Description Returns message counts, participants and a short AI synopsis. The synopsis is cached and omitted when the provider is unavailable.
// @Tags AI API
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} responses.Response "Summary"
// @Failure 403 {object} responses.ErrorResponse "Not the owner"
// @Failure 404 {object} responses.ErrorResponse "Conversation not found"
// @Router /v1/conversations/{id}/summary [get]
func (route *AIRoute) summary(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	summary, err := route.handler.Summary(reqCtx.Request.Context(), principal, reqCtx.Param("id"))
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to summarize conversation")
		return
	}
	responses.OK(reqCtx, summary)
}

// health godoc
// @Summary AI provider health
// @Description Probes the configured AI provider and reports its circuit breaker state.
// @Tags AI API
// @Security BearerAuth
// @Produce json
// @Success 200 {object} responses.Response "Provider health"
// @Failure 401 {object} responses.ErrorResponse "Unauthorized"
// @Router /v1/conversations/ai/health [get]
func (route *AIRoute) health(reqCtx *gin.Context) {
	if _, ok := requirePrincipal(reqCtx); !ok {
		return
	}
	responses.OK(reqCtx, route.handler.Health(reqCtx.Request.Context()))
}

// rateLimitStatus godoc
// @Summary AI rate limit status
// @Description Reports the caller's tier bucket and the global bucket without consuming points.
// @Tags AI API
// @Security BearerAuth
// @Produce json
// @Success 200 {object} responses.Response "Bucket status"
// @Failure 401 {object} responses.ErrorResponse "Unauthorized"
// @Router /v1/conversations/ai/rate-limit [get]
func (route *AIRoute) rateLimitStatus(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	status, err := route.handler.RateLimitStatus(reqCtx.Request.Context(), principal.ID, principal.Role)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to read rate limit status")
		return
	}
	responses.OK(reqCtx, status)
}
