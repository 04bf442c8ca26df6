package v1

import (
	"github.com/google/wire"

	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/routes/v1/admin"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/routes/v1/conversation"
)

var RouteProvider = wire.NewSet(
	conversation.NewAIRoute,
	conversation.NewConversationRoute,
	admin.NewAdminRoute,
	NewV1Route,
)
