package conversationhandler

import (
	"context"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/domain/query"
	"github.com/castmatch/castmatch-server/internal/domain/realtime"
	"github.com/castmatch/castmatch-server/internal/infrastructure/metrics"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/requests"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/responses"
)

// ConversationHandler applies HTTP requests to the conversation service and
// mirrors message changes onto the relay.
type ConversationHandler struct {
	service     *conversation.ConversationService
	broadcaster realtime.Broadcaster
}

func NewConversationHandler(service *conversation.ConversationService, broadcaster realtime.Broadcaster) *ConversationHandler {
	if broadcaster == nil {
		broadcaster = realtime.NopBroadcaster{}
	}
	return &ConversationHandler{service: service, broadcaster: broadcaster}
}

func (h *ConversationHandler) CreateConversation(ctx context.Context, userID string, req requests.CreateConversationRequest) (*conversation.Conversation, error) {
	conv, err := h.service.CreateConversation(ctx, conversation.CreateConversationInput{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
	})
	if err != nil {
		return nil, err
	}
	metrics.ConversationsCreatedTotal.Inc()
	return conv, nil
}

// ConversationList is the list payload with its pagination block.
type ConversationList struct {
	Conversations []*conversation.Conversation
	Pagination    responses.Pagination
}

func (h *ConversationHandler) ListConversations(ctx context.Context, userID string, q requests.ListConversationsQuery) (*ConversationList, error) {
	page, err := h.service.GetUserConversations(ctx, userID, q.Page, q.Limit, q.IncludeInactive)
	if err != nil {
		return nil, err
	}
	conversations := page.Conversations
	if conversations == nil {
		conversations = []*conversation.Conversation{}
	}
	return &ConversationList{
		Conversations: conversations,
		Pagination: responses.Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      page.Total,
			TotalPages: page.TotalPages,
			HasMore:    page.Page < page.TotalPages,
		},
	}, nil
}

func (h *ConversationHandler) GetConversation(ctx context.Context, conversationID, userID string) (*conversation.Conversation, error) {
	return h.service.GetConversationForUser(ctx, conversationID, userID)
}

func (h *ConversationHandler) UpdateConversation(ctx context.Context, conversationID, userID string, req requests.UpdateConversationRequest) (*conversation.Conversation, error) {
	return h.service.UpdateConversation(ctx, conversationID, userID, conversation.UpdateConversationInput{
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
		IsActive:    req.IsActive,
	})
}

func (h *ConversationHandler) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	return h.service.DeleteConversation(ctx, conversationID, userID)
}

// CreateMessage persists a user message and emits message:new.
func (h *ConversationHandler) CreateMessage(ctx context.Context, conversationID, userID string, req requests.CreateMessageRequest) (*conversation.Message, error) {
	msg, err := h.service.CreateMessage(ctx, conversation.CreateMessageInput{
		ConversationID:  conversationID,
		AuthorID:        &userID,
		Content:         req.Content,
		Type:            conversation.MessageType(req.Type),
		ParentMessageID: req.ParentMessageID,
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordMessage(false)
	h.broadcaster.EmitToRoom(realtime.ConversationRoom(msg.ConversationPublicID), realtime.EventMessageNew, msg)
	return msg, nil
}

// MessageList is one page of history.
type MessageList struct {
	Messages   []*conversation.Message
	Pagination responses.Pagination
}

func (h *ConversationHandler) ListMessages(ctx context.Context, conversationID, userID string, q requests.ListMessagesQuery) (*MessageList, error) {
	mq := conversation.MessagesQuery{
		ConversationID: conversationID,
		RequesterID:    userID,
		Page:           q.Page,
		Limit:          q.Limit,
	}
	if q.Before != "" {
		before := q.Before
		mq.BeforeMessageID = &before
	}
	page, err := h.service.GetConversationMessages(ctx, mq)
	if err != nil {
		return nil, err
	}
	messages := page.Messages
	if messages == nil {
		messages = []*conversation.Message{}
	}
	return &MessageList{
		Messages: messages,
		Pagination: responses.Pagination{
			Page:    page.Page,
			Limit:   page.Limit,
			HasMore: page.HasMore,
		},
	}, nil
}

// UpdateMessage edits a message and emits message:edited.
func (h *ConversationHandler) UpdateMessage(ctx context.Context, conversationID, messageID, userID string, req requests.UpdateMessageRequest) (*conversation.Message, error) {
	msg, err := h.service.UpdateMessageForUser(ctx, conversationID, messageID, userID, req.Content)
	if err != nil {
		return nil, err
	}
	h.broadcaster.EmitToRoom(realtime.ConversationRoom(conversationID), realtime.EventMessageEdited, msg)
	return msg, nil
}

// DeleteMessage soft-deletes a message and emits message:deleted.
func (h *ConversationHandler) DeleteMessage(ctx context.Context, conversationID, messageID, userID string) error {
	if _, err := h.service.DeleteMessageForUser(ctx, conversationID, messageID, userID); err != nil {
		return err
	}
	h.broadcaster.EmitToRoom(realtime.ConversationRoom(conversationID), realtime.EventMessageDeleted, realtime.MessageRefPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
	})
	return nil
}

func (h *ConversationHandler) SearchMessages(ctx context.Context, conversationID, userID string, q requests.SearchMessagesQuery) ([]*conversation.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = query.DefaultLimit
	}
	results, err := h.service.SearchMessages(ctx, conversationID, userID, q.Q, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []*conversation.Message{}
	}
	return results, nil
}
