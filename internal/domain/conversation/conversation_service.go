package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/castmatch/castmatch-server/internal/domain/query"
	"github.com/castmatch/castmatch-server/internal/utils/functional"
	"github.com/castmatch/castmatch-server/internal/utils/idgen"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// ConversationService owns conversation and message lifecycle rules.
type ConversationService struct {
	conversations ConversationRepository
	messages      MessageRepository
	validator     *Validator
	now           func() time.Time
}

// NewConversationService creates a new conversation service
func NewConversationService(conversations ConversationRepository, messages MessageRepository) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		validator:     NewValidator(nil),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (s *ConversationService) WithClock(now func() time.Time) *ConversationService {
	s.now = now
	return s
}

// ===============================================
// Conversations
// ===============================================

type CreateConversationInput struct {
	UserID      string
	Title       *string
	Description *string
	Context     map[string]any
}

type UpdateConversationInput struct {
	Title       *string
	Description *string
	Context     map[string]any
	IsActive    *bool
}

// ConversationPage is one page of a user's conversations.
type ConversationPage struct {
	Conversations []*Conversation
	Total         int64
	Page          int
	Limit         int
	TotalPages    int
}

func (s *ConversationService) CreateConversation(ctx context.Context, input CreateConversationInput) (*Conversation, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnauthorized, "user is required", nil, "e80beb08-5ac3-4823-870c-473a3af9caca")
	}

	title := DefaultTitle
	if input.Title != nil && strings.TrimSpace(*input.Title) != "" {
		title = strings.TrimSpace(*input.Title)
	}
	if err := s.validator.ValidateTitle(title); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "1e585acf-c1bc-4021-ba4e-bf78777e73d4")
	}
	if input.Description != nil {
		if err := s.validator.ValidateDescription(*input.Description); err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "d679ab54-9db1-4fc3-9fd1-c5ebb4fbe3fe")
		}
	}
	if err := s.validator.ValidateContext(input.Context); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "822f4e9c-6422-47b2-a7ae-867235d8d0e7")
	}

	publicID, err := idgen.NewConversationID()
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to generate conversation ID")
	}

	now := s.now()
	conv := &Conversation{
		PublicID:    publicID,
		UserID:      input.UserID,
		Title:       title,
		Description: input.Description,
		Context:     input.Context,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if conv.Context == nil {
		conv.Context = map[string]any{}
	}

	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to create conversation")
	}
	return conv, nil
}

// GetUserConversations lists the owner's conversations, most recent activity first.
func (s *ConversationService) GetUserConversations(ctx context.Context, userID string, page, limit int, includeInactive bool) (*ConversationPage, error) {
	pagination := query.NewPagination(page, limit)
	filter := ConversationFilter{UserID: &userID, IncludeInactive: includeInactive}

	conversations, err := s.conversations.FindByFilter(ctx, filter, pagination)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to list conversations")
	}
	total, err := s.conversations.Count(ctx, filter)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to count conversations")
	}

	return &ConversationPage{
		Conversations: conversations,
		Total:         total,
		Page:          pagination.Page(),
		Limit:         pagination.Limit,
		TotalPages:    pagination.TotalPages(total),
	}, nil
}

// GetConversation returns the conversation if it exists.
func (s *ConversationService) GetConversation(ctx context.Context, publicID string) (*Conversation, error) {
	if err := s.validator.ValidateConversationID(publicID); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "invalid conversation ID", err, "fb8c8644-c766-4071-b2b7-585db5071746")
	}
	conv, err := s.conversations.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to load conversation")
	}
	return conv, nil
}

// GetConversationForUser returns the conversation if it exists and userID owns it.
func (s *ConversationService) GetConversationForUser(ctx context.Context, publicID, userID string) (*Conversation, error) {
	conv, err := s.GetConversation(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if !conv.IsOwnedBy(userID) {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeForbidden, "Access denied to this conversation", nil, "39370a56-3522-47bb-aaf5-c6a86683a611")
	}
	return conv, nil
}

func (s *ConversationService) UpdateConversation(ctx context.Context, publicID, userID string, input UpdateConversationInput) (*Conversation, error) {
	conv, err := s.GetConversationForUser(ctx, publicID, userID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if err := s.validator.ValidateTitle(title); err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "12a57ba9-db7c-4394-8932-878700dcd05b")
		}
		conv.Title = title
	}
	if input.Description != nil {
		if err := s.validator.ValidateDescription(*input.Description); err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "73ff63fa-c633-4387-a7ab-019471f55dba")
		}
		conv.Description = input.Description
	}
	if input.Context != nil {
		if err := s.validator.ValidateContext(input.Context); err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "91ad836b-29fc-4d75-8250-16c62808f088")
		}
		conv.Context = input.Context
	}
	if input.IsActive != nil {
		conv.IsActive = *input.IsActive
	}
	conv.UpdatedAt = s.now()

	if err := s.conversations.Update(ctx, conv); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to update conversation")
	}
	return conv, nil
}

// DeleteConversation deactivates the conversation; rows are never removed.
func (s *ConversationService) DeleteConversation(ctx context.Context, publicID, userID string) error {
	inactive := false
	_, err := s.UpdateConversation(ctx, publicID, userID, UpdateConversationInput{IsActive: &inactive})
	return err
}

// ===============================================
// Messages
// ===============================================

type CreateMessageInput struct {
	ConversationID  string
	AuthorID        *string
	Content         string
	Type            MessageType
	Metadata        map[string]any
	IsAIResponse    bool
	ParentMessageID *string
}

type MessagesQuery struct {
	ConversationID  string
	RequesterID     string
	Page            int
	Limit           int
	BeforeMessageID *string
}

// MessagePage holds one page of messages in chronological order.
type MessagePage struct {
	Messages []*Message
	HasMore  bool
	Page     int
	Limit    int
}

// CreateMessage persists a message. Human-authored messages require the author
// to own the conversation; AI messages have no author.
func (s *ConversationService) CreateMessage(ctx context.Context, input CreateMessageInput) (*Message, error) {
	conv, err := s.GetConversation(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	var authorID *string
	if !input.IsAIResponse {
		if input.AuthorID == nil || !conv.IsOwnedBy(*input.AuthorID) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeForbidden, "Access denied to this conversation", nil, "ea208154-ae17-4743-8ff4-a00bd336d968")
		}
		authorID = input.AuthorID
	}
	if !conv.IsActive {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "Conversation is archived", nil, "7259c73b-10c9-478e-9b64-2468f58de303")
	}

	if err := s.validator.ValidateContent(input.Content); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "29a4ffa4-0bd5-4172-9ede-3359a66045e0")
	}
	msgType := input.Type
	if msgType == "" {
		msgType = MessageTypeText
	}
	if err := s.validator.ValidateMessageType(msgType); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "776072a6-24fe-4eba-8005-d3ace24d6823")
	}

	if input.ParentMessageID != nil {
		parent, err := s.messages.FindByPublicID(ctx, *input.ParentMessageID)
		if err != nil {
			return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to load parent message")
		}
		if parent.ConversationID != conv.ID {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "Parent message belongs to another conversation", nil, "ea7ae139-5425-4c15-b62d-7da478917fd0")
		}
	}

	publicID, err := idgen.NewMessageID()
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to generate message ID")
	}

	now := s.now()
	msg := &Message{
		PublicID:             publicID,
		ConversationID:       conv.ID,
		ConversationPublicID: conv.PublicID,
		UserID:               authorID,
		Content:              input.Content,
		Type:                 msgType,
		ParentMessageID:      input.ParentMessageID,
		IsAIResponse:         input.IsAIResponse,
		Metadata:             input.Metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}

	if err := s.messages.CreateAndTouchConversation(ctx, msg); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to create message")
	}
	return msg, nil
}

// GetConversationMessages pages backwards through history. It fetches one row
// beyond the limit to detect hasMore and returns the page oldest first.
func (s *ConversationService) GetConversationMessages(ctx context.Context, q MessagesQuery) (*MessagePage, error) {
	conv, err := s.GetConversationForUser(ctx, q.ConversationID, q.RequesterID)
	if err != nil {
		return nil, err
	}

	pagination := query.NewPagination(q.Page, q.Limit)
	filter := MessageFilter{ConversationID: conv.ID}
	offset := pagination.Offset

	if q.BeforeMessageID != nil && *q.BeforeMessageID != "" {
		cursor, err := s.messages.FindByPublicIDUnscoped(ctx, *q.BeforeMessageID)
		if err != nil {
			return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to load cursor message")
		}
		if cursor.ConversationID != conv.ID {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "Message not found", nil, "3bd2c7d1-4bbd-4959-b7ce-1a10d871ad23")
		}
		filter.BeforeID = &cursor.ID
		offset = 0
	}

	rows, err := s.messages.FindNewestFirst(ctx, filter, pagination.Limit+1, offset)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to list messages")
	}

	hasMore := len(rows) > pagination.Limit
	if hasMore {
		rows = rows[:pagination.Limit]
	}

	return &MessagePage{
		Messages: functional.Reverse(rows),
		HasMore:  hasMore,
		Page:     pagination.Page(),
		Limit:    pagination.Limit,
	}, nil
}

// GetMessageByID returns a visible message.
func (s *ConversationService) GetMessageByID(ctx context.Context, messageID string) (*Message, error) {
	if err := s.validator.ValidateMessageID(messageID); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "invalid message ID", err, "4e6a30a4-9741-432a-bfc4-3dd569f55653")
	}
	msg, err := s.messages.FindByPublicID(ctx, messageID)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to load message")
	}
	return msg, nil
}

// GetMessageForUser loads a visible message scoped to a conversation owned by userID.
func (s *ConversationService) GetMessageForUser(ctx context.Context, conversationID, messageID, userID string) (*Message, error) {
	conv, err := s.GetConversationForUser(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != conv.ID {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "Message not found", nil, "7afa258d-0916-45ce-9b68-d655c98e4c58")
	}
	return msg, nil
}

// UpdateMessage replaces the content and stamps editedAt.
func (s *ConversationService) UpdateMessage(ctx context.Context, messageID, content string) (*Message, error) {
	if err := s.validator.ValidateContent(content); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "d03987e2-a706-4f4b-9764-e9e74f11a1b4")
	}
	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	editedAt := s.now()
	if err := s.messages.UpdateContent(ctx, msg.ID, content, editedAt); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to update message")
	}
	msg.Content = content
	msg.EditedAt = &editedAt
	msg.UpdatedAt = editedAt
	return msg, nil
}

// UpdateMessageForUser is UpdateMessage guarded by conversation ownership.
func (s *ConversationService) UpdateMessageForUser(ctx context.Context, conversationID, messageID, userID, content string) (*Message, error) {
	if _, err := s.GetMessageForUser(ctx, conversationID, messageID, userID); err != nil {
		return nil, err
	}
	return s.UpdateMessage(ctx, messageID, content)
}

// DeleteMessage soft-deletes a message. Deleting an already deleted message is
// a no-op and keeps the original timestamp.
func (s *ConversationService) DeleteMessage(ctx context.Context, messageID string) (*Message, error) {
	if err := s.validator.ValidateMessageID(messageID); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "invalid message ID", err, "798f6c89-9661-4ad3-b763-70eccdb4f9cd")
	}
	msg, err := s.messages.FindByPublicIDUnscoped(ctx, messageID)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to load message")
	}
	if msg.State().Status == MessageStatusDeleted {
		return msg, nil
	}

	deletedAt := s.now()
	if err := s.messages.SoftDelete(ctx, msg.ID, deletedAt); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to delete message")
	}
	msg.DeletedAt = &deletedAt
	return msg, nil
}

// DeleteMessageForUser is DeleteMessage guarded by conversation ownership.
func (s *ConversationService) DeleteMessageForUser(ctx context.Context, conversationID, messageID, userID string) (*Message, error) {
	conv, err := s.GetConversationForUser(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	msg, err := s.messages.FindByPublicIDUnscoped(ctx, messageID)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to load message")
	}
	if msg.ConversationID != conv.ID {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "Message not found", nil, "8c933f80-1bd1-4b69-958c-ad0e6a87a4e6")
	}
	return s.DeleteMessage(ctx, messageID)
}

// MarkMessageRead stamps readAt on first read.
func (s *ConversationService) MarkMessageRead(ctx context.Context, conversationID, messageID, userID string) (*Message, error) {
	msg, err := s.GetMessageForUser(ctx, conversationID, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.ReadAt != nil {
		return msg, nil
	}
	readAt := s.now()
	if err := s.messages.MarkRead(ctx, msg.ID, readAt); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to mark message read")
	}
	msg.ReadAt = &readAt
	return msg, nil
}

// SearchMessages does a case-insensitive substring match within one conversation.
func (s *ConversationService) SearchMessages(ctx context.Context, conversationID, requesterID, q string, limit int) ([]*Message, error) {
	conv, err := s.GetConversationForUser(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	q = strings.TrimSpace(q)
	if err := s.validator.ValidateSearchQuery(q); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, err.Error(), err, "698fdce5-041b-4172-9df2-07d1fd4052b2")
	}

	pagination := query.NewPagination(1, limit)
	results, err := s.messages.FindNewestFirst(ctx, MessageFilter{ConversationID: conv.ID, Search: &q}, pagination.Limit, 0)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to search messages")
	}
	return results, nil
}

// RecentHistory returns up to limit latest visible messages oldest first, without
// an ownership check. Callers must have authorized access to the conversation.
func (s *ConversationService) RecentHistory(ctx context.Context, conv *Conversation, limit int) ([]*Message, error) {
	if limit <= 0 {
		return []*Message{}, nil
	}
	rows, err := s.messages.FindNewestFirst(ctx, MessageFilter{ConversationID: conv.ID}, limit, 0)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to load history")
	}
	return functional.Reverse(rows), nil
}

// Stats aggregates visible messages of a conversation owned by userID.
func (s *ConversationService) Stats(ctx context.Context, conversationID, userID string) (*Conversation, *MessageStats, error) {
	conv, err := s.GetConversationForUser(ctx, conversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.messages.Stats(ctx, conv.ID)
	if err != nil {
		return nil, nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to compute conversation stats")
	}
	return conv, stats, nil
}
