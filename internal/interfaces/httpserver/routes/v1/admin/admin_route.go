package admin

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/handlers/aihandler"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/middlewares"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/requests"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/responses"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// AdminRoute exposes operator endpoints. Every route requires the admin role.
type AdminRoute struct {
	ai *aihandler.AIHandler
}

func NewAdminRoute(ai *aihandler.AIHandler) *AdminRoute {
	return &AdminRoute{ai: ai}
}

// RegisterRouter registers admin routes under /admin prefix
func (r *AdminRoute) RegisterRouter(router gin.IRouter) {
	adminGroup := router.Group("/admin", middlewares.RequireAdmin())
	{
		adminGroup.GET("/rate-limit/:userId", r.getRateLimit)
		adminGroup.DELETE("/rate-limit/:userId", r.resetRateLimit)
	}
}

func (r *AdminRoute) target(reqCtx *gin.Context) (string, identity.Role, bool) {
	userID := strings.TrimSpace(reqCtx.Param("userId"))
	if userID == "" {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "userId is required", "0b716b8e-b6f0-4eea-a669-e597e8c10bab")
		return "", "", false
	}
	var q requests.RateLimitStatusQuery
	if err := reqCtx.ShouldBindQuery(&q); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "role must be one of: actor producer casting_director admin", "0fc23a27-1e80-4f86-8a3d-f89a3bae9848")
		return "", "", false
	}
	return userID, identity.ParseRole(q.Role), true
}

// getRateLimit godoc
// @Summary Inspect a user's AI rate limit
// @Description Returns the user's tier bucket for the given role and the global bucket.
// @Tags Admin API
// @Security BearerAuth
// @Produce json
// @Param userId path string true "User ID"
// @Param role query string false "Role whose tier to inspect (default actor)"
// @Success 200 {object} responses.Response "Bucket status"
// @Failure 400 {object} responses.ErrorResponse "Invalid role"
// @Failure 403 {object} responses.ErrorResponse "Admin access required"
// @Router /v1/admin/rate-limit/{userId} [get]
func (r *AdminRoute) getRateLimit(reqCtx *gin.Context) {
	userID, role, ok := r.target(reqCtx)
	if !ok {
		return
	}
	status, err := r.ai.RateLimitStatus(reqCtx.Request.Context(), userID, role)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to read rate limit status")
		return
	}
	responses.OK(reqCtx, status)
}

// resetRateLimit godoc
// @Summary Reset a user's AI rate limit
// @Description Clears the user's tier bucket, including any active block.
// @Tags Admin API
// @Security BearerAuth
// @Produce json
// @Param userId path string true "User ID"
// @Param role query string false "Role whose tier to reset (default actor)"
// @Success 200 {object} responses.Response "Rate limit reset"
// @Failure 400 {object} responses.ErrorResponse "Invalid role"
// @Failure 403 {object} responses.ErrorResponse "Admin access required"
// @Router /v1/admin/rate-limit/{userId} [delete]
func (r *AdminRoute) resetRateLimit(reqCtx *gin.Context) {
	userID, role, ok := r.target(reqCtx)
	if !ok {
		return
	}
	if err := r.ai.ResetRateLimit(reqCtx.Request.Context(), userID, role); err != nil {
		responses.HandleError(reqCtx, err, "Failed to reset rate limit")
		return
	}
	responses.Message(reqCtx, "Rate limit reset")
}
