package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/routes/v1/admin"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/routes/v1/conversation"
)

type V1Route struct {
	conversation *conversation.ConversationRoute
	adminRoute   *admin.AdminRoute
}

func NewV1Route(
	conversation *conversation.ConversationRoute,
	adminRoute *admin.AdminRoute,
) *V1Route {
	return &V1Route{
		conversation,
		adminRoute,
	}
}

// RegisterRouter mounts the authenticated API. The caller applies the auth
// middleware to router.
func (v1Route *V1Route) RegisterRouter(router gin.IRouter) {
	v1Router := router.Group("/v1")

	v1Route.adminRoute.RegisterRouter(v1Router)
	v1Route.conversation.RegisterRouter(v1Router)
}
