package conversation

import (
	"context"
	"time"
)

const MaxContentLength = 10000

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeSystem   MessageType = "system"
)

// ValidMessageType reports whether t is one of the known message types.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument, MessageTypeSystem:
		return true
	}
	return false
}

// MessageStatus tags the edit/delete lifecycle of a message.
type MessageStatus string

const (
	MessageStatusActive  MessageStatus = "active"
	MessageStatusEdited  MessageStatus = "edited"
	MessageStatusDeleted MessageStatus = "deleted"
)

// MessageState is the lifecycle state with the timestamp of its last transition.
type MessageState struct {
	Status MessageStatus
	At     *time.Time
}

type Message struct {
	ID                   uint           `json:"-"`
	PublicID             string         `json:"id"`
	ConversationID       uint           `json:"-"`
	ConversationPublicID string         `json:"conversationId"`
	UserID               *string        `json:"userId"`
	Content              string         `json:"content"`
	Type                 MessageType    `json:"type"`
	ParentMessageID      *string        `json:"parentMessageId,omitempty"`
	IsAIResponse         bool           `json:"isAiResponse"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	EditedAt             *time.Time     `json:"editedAt,omitempty"`
	DeletedAt            *time.Time     `json:"-"`
	ReadAt               *time.Time     `json:"readAt,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// State derives the tagged lifecycle state. Deleted wins over Edited.
func (m *Message) State() MessageState {
	switch {
	case m.DeletedAt != nil:
		return MessageState{Status: MessageStatusDeleted, At: m.DeletedAt}
	case m.EditedAt != nil:
		return MessageState{Status: MessageStatusEdited, At: m.EditedAt}
	default:
		return MessageState{Status: MessageStatusActive}
	}
}

// Visible reports whether the message may be returned from a read path.
func (m *Message) Visible() bool {
	return m != nil && m.State().Status != MessageStatusDeleted
}

// MessageFilter scopes message reads. Soft-deleted rows are always excluded.
type MessageFilter struct {
	ConversationID uint
	BeforeID       *uint
	Search         *string
}

// MessageStats aggregates visible messages of one conversation.
type MessageStats struct {
	Total          int64      `json:"total"`
	UserMessages   int64      `json:"userMessages"`
	AIMessages     int64      `json:"aiMessages"`
	FirstMessageAt *time.Time `json:"firstMessageAt,omitempty"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
}

type MessageRepository interface {
	// CreateAndTouchConversation inserts the message and bumps the parent
	// conversation's message count and last-message time in one transaction.
	CreateAndTouchConversation(ctx context.Context, message *Message) error
	FindByPublicID(ctx context.Context, publicID string) (*Message, error)
	// FindByPublicIDUnscoped also returns soft-deleted messages.
	FindByPublicIDUnscoped(ctx context.Context, publicID string) (*Message, error)
	// FindNewestFirst returns up to limit visible messages ordered newest first.
	FindNewestFirst(ctx context.Context, filter MessageFilter, limit, offset int) ([]*Message, error)
	UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id uint, deletedAt time.Time) error
	MarkRead(ctx context.Context, id uint, readAt time.Time) error
	Stats(ctx context.Context, conversationID uint) (*MessageStats, error)
}
