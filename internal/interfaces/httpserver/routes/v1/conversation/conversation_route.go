package conversation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/handlers/conversationhandler"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/middlewares"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/requests"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/responses"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

type ConversationRoute struct {
	handler *conversationhandler.ConversationHandler
	ai      *AIRoute
}

func NewConversationRoute(handler *conversationhandler.ConversationHandler, ai *AIRoute) *ConversationRoute {
	return &ConversationRoute{handler: handler, ai: ai}
}

// RegisterRouter mounts the conversation routes. Static segments are
// registered before :id so gin resolves them first.
func (route *ConversationRoute) RegisterRouter(router gin.IRouter) {
	conversations := router.Group("/conversations")
	conversations.POST("/create", route.createConversation)
	conversations.GET("", route.listConversations)
	route.ai.RegisterStaticRoutes(conversations)

	conversations.GET("/:id", route.getConversation)
	conversations.PUT("/:id", route.updateConversation)
	conversations.DELETE("/:id", route.deleteConversation)
	conversations.POST("/:id/messages", route.createMessage)
	conversations.GET("/:id/messages", route.listMessages)
	conversations.PUT("/:id/messages/:messageId", route.updateMessage)
	conversations.DELETE("/:id/messages/:messageId", route.deleteMessage)
	conversations.GET("/:id/search", route.searchMessages)
	route.ai.RegisterConversationRoutes(conversations)
}

// requirePrincipal returns the authenticated caller or writes a 401.
func requirePrincipal(reqCtx *gin.Context) (identity.Principal, bool) {
	principal, ok := middlewares.PrincipalFromContext(reqCtx)
	if !ok {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeUnauthorized, "Authentication required", "5105d755-e84c-4384-a926-326c7a9a7737")
		return identity.Principal{}, false
	}
	return principal, true
}

// createConversation godoc
// @Summary Create a conversation
// @Description Creates a conversation owned by the authenticated user. Title defaults to "New conversation".
// @Tags Conversations API
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body requests.CreateConversationRequest true "Conversation fields"
// @Success 201 {object} responses.Response "Conversation created"
// @Failure 400 {object} responses.ErrorResponse "Invalid request body"
// @Failure 401 {object} responses.ErrorResponse "Unauthorized"
// @Failure 500 {object} responses.ErrorResponse "Internal server error"
// @Router /v1/conversations/create [post]
func (route *ConversationRoute) createConversation(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	var req requests.CreateConversationRequest
	if err := reqCtx.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "invalid request body", "fcf6cb47-c4d1-4f2d-95bf-bd58851288af")
		return
	}

	conv, err := route.handler.CreateConversation(reqCtx.Request.Context(), principal.ID, req)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to create conversation")
		return
	}
	responses.Created(reqCtx, conv)
}

// listConversations godoc
// @Summary List conversations
// @Description Lists the caller's conversations, most recently updated first.
// @Tags Conversations API
// @Security BearerAuth
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Param includeInactive query bool false "Include archived conversations"
// @Success 200 {object} responses.Response "Conversations with pagination"
// @Failure 400 {object} responses.ErrorResponse "Invalid query parameters"
// @Failure 401 {object} responses.ErrorResponse "Unauthorized"
// @Router /v1/conversations [get]
func (route *ConversationRoute) listConversations(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	var q requests.ListConversationsQuery
	if err := reqCtx.ShouldBindQuery(&q); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "invalid query parameters", "e97c7bed-deb4-4c1f-9de9-7cdc0843140f")
		return
	}

	list, err := route.handler.ListConversations(reqCtx.Request.Context(), principal.ID, q)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to list conversations")
		return
	}
	responses.Page(reqCtx, list.Conversations, list.Pagination)
}

// getConversation godoc
// @Summary Get a conversation
// @Description Returns a conversation owned by the caller.
// @Tags Conversations API
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} responses.Response "Conversation"
// @Failure 403 {object} responses.ErrorResponse "Not the owner"
// @Failure 404 {object} responses.ErrorResponse "Conversation not found"
// @Router /v1/conversations/{id} [get]
func (route *ConversationRoute) getConversation(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	conv, err := route.handler.GetConversation(reqCtx.Request.Context(), reqCtx.Param("id"), principal.ID)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to get conversation")
		return
	}
	responses.OK(reqCtx, conv)
}

// updateConversation godoc
// @Summary Update a conversation
// @Description Updates title, description, context or the active flag.
// @Tags Conversations API
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param request body requests.UpdateConversationRequest true "Fields to update"
// @Success 200 {object} responses.Response "Updated conversation"
// @Failure 400 {object} responses.ErrorResponse "Invalid request body"
// @Failure 403 {object} responses.ErrorResponse "Not the owner"
// @Failure 404 {object} responses.ErrorResponse "Conversation not found"
// @Router /v1/conversations/{id} [put]
func (route *ConversationRoute) updateConversation(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	var req requests.UpdateConversationRequest
	if err := reqCtx.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "invalid request body", "7c7212ce-9d43-4ed1-b74d-8925f97e9dc7")
		return
	}

	conv, err := route.handler.UpdateConversation(reqCtx.Request.Context(), reqCtx.Param("id"), principal.ID, req)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to update conversation")
		return
	}
	responses.OK(reqCtx, conv)
}

// deleteConversation godoc
// @Summary Delete a conversation
// @Description Archives a conversation. It no longer appears in default listings.
// @Tags Conversations API
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} responses.Response "Conversation deleted"
// @Failure 403 {object} responses.ErrorResponse "Not the owner"
// @Failure 404 {object} responses.ErrorResponse "Conversation not found"
// @Router /v1/conversations/{id} [delete]
func (route *ConversationRoute) deleteConversation(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	if err := route.handler.DeleteConversation(reqCtx.Request.Context(), reqCtx.Param("id"), principal.ID); err != nil {
		responses.HandleError(reqCtx, err, "Failed to delete conversation")
		return
	}
	responses.Message(reqCtx, "Conversation deleted")
}

// createMessage godoc
// @Summary Send a message
// @Description Persists a user message and broadcasts message:new to the conversation room.
// @Tags Messages API
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param request body requests.CreateMessageRequest true "Message"
// @Success 201 {object} responses.Response "Message created"
// @Failure 400 {object} responses.ErrorResponse "Invalid request body"
// @Failure 403 {object} responses.ErrorResponse "Not the owner"
// @Failure 404 {object} responses.ErrorResponse "Conversation not found"
// @Router /v1/conversations/{id}/messages [post]
func (route *ConversationRoute) createMessage(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	var req requests.CreateMessageRequest
	if err := reqCtx.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "content is required", "b3ff66f2-5fa1-4d01-a4d2-bf8ff893ae92")
		return
	}

	msg, err := route.handler.CreateMessage(reqCtx.Request.Context(), reqCtx.Param("id"), principal.ID, req)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to create message")
		return
	}
	responses.Created(reqCtx, msg)
}

// listMessages godoc
// @Summary List messages
// @Description Returns one page of history in chronological order. `before` pages backwards from a message.
// @Tags Messages API
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Param before query string false "Only messages created before this message ID"
// @Success 200 {object} responses.Response "Messages with pagination"
// @Failure 403 {object} responses.ErrorResponse "Not the owner"
// @Failure 404 {object} responses.ErrorResponse "Conversation not found"
// @Router /v1/conversations/{id}/messages [get]
func (route *ConversationRoute) listMessages(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	var q requests.ListMessagesQuery
	if err := reqCtx.ShouldBindQuery(&q); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "invalid query parameters", "34eb6557-6a59-4a83-923c-030bfe2ed355")
		return
	}

	list, err := route.handler.ListMessages(reqCtx.Request.Context(), reqCtx.Param("id"), principal.ID, q)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to list messages")
		return
	}
	responses.Page(reqCtx, list.Messages, list.Pagination)
}

// updateMessage godoc
// @Summary Edit a message
// @Description Edits the caller's own message and broadcasts message:edited.
// @Tags Messages API
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Param request body requests.UpdateMessageRequest true "New content"
// @Success 200 {object} responses.Response "Updated message"
// @Failure 400 {object} responses.ErrorResponse "Invalid request body"
// @Failure 403 {object} responses.ErrorResponse "Not the author"
// @Failure 404 {object} responses.ErrorResponse "Message not found"
// @Router /v1/conversations/{id}/messages/{messageId} [put]
func (route *ConversationRoute) updateMessage(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	var req requests.UpdateMessageRequest
	if err := reqCtx.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "content is required", "e2b08798-0475-4c24-9fcb-e7e8a7e8ddcf")
		return
	}

	msg, err := route.handler.UpdateMessage(reqCtx.Request.Context(), reqCtx.Param("id"), reqCtx.Param("messageId"), principal.ID, req)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to update message")
		return
	}
	responses.OK(reqCtx, msg)
}

// deleteMessage godoc
// @Summary Delete a message
// @Description Soft-deletes the caller's own message and broadcasts message:deleted. Repeating the call is a no-op.
// @Tags Messages API
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Success 200 {object} responses.Response "Message deleted"
// @Failure 403 {object} responses.ErrorResponse "Not the author"
// @Failure 404 {object} responses.ErrorResponse "Message not found"
// @Router /v1/conversations/{id}/messages/{messageId} [delete]
func (route *ConversationRoute) deleteMessage(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	if err := route.handler.DeleteMessage(reqCtx.Request.Context(), reqCtx.Param("id"), reqCtx.Param("messageId"), principal.ID); err != nil {
		responses.HandleError(reqCtx, err, "Failed to delete message")
		return
	}
	responses.Message(reqCtx, "Message deleted")
}

// searchMessages godoc
// @Summary Search messages
// @Description Case-insensitive substring search over the conversation's visible messages, newest first.
// @Tags Messages API
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Param q query string true "Search text"
// @Param limit query int false "Maximum results (default 20, max 100)"
// @Success 200 {object} responses.Response "Matching messages"
// @Failure 400 {object} responses.ErrorResponse "Missing query"
// @Failure 403 {object} responses.ErrorResponse "Not the owner"
// @Router /v1/conversations/{id}/search [get]
func (route *ConversationRoute) searchMessages(reqCtx *gin.Context) {
	principal, ok := requirePrincipal(reqCtx)
	if !ok {
		return
	}

	var q requests.SearchMessagesQuery
	if err := reqCtx.ShouldBindQuery(&q); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation, "q is required", "2270fcaa-6ba5-4aea-89ae-a66d8823da34")
		return
	}

	results, err := route.handler.SearchMessages(reqCtx.Request.Context(), reqCtx.Param("id"), principal.ID, q)
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to search messages")
		return
	}
	reqCtx.JSON(http.StatusOK, responses.Response{Success: true, Data: results})
}
