package conversation

import (
	"context"
	"time"

	"github.com/castmatch/castmatch-server/internal/domain/query"
)

const DefaultTitle = "New conversation"

// Conversation is a chat thread owned by a single user.
type Conversation struct {
	ID            uint           `json:"-"`
	PublicID      string         `json:"id"`
	UserID        string         `json:"userId"`
	Title         string         `json:"title"`
	Description   *string        `json:"description,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	IsActive      bool           `json:"isActive"`
	MessageCount  int            `json:"messageCount"`
	LastMessageAt *time.Time     `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// IsOwnedBy reports whether userID owns the conversation.
func (c *Conversation) IsOwnedBy(userID string) bool {
	return c != nil && userID != "" && c.UserID == userID
}

type ConversationFilter struct {
	UserID          *string
	IncludeInactive bool
}

type ConversationRepository interface {
	Create(ctx context.Context, conversation *Conversation) error
	FindByPublicID(ctx context.Context, publicID string) (*Conversation, error)
	FindByFilter(ctx context.Context, filter ConversationFilter, pagination query.Pagination) ([]*Conversation, error)
	Count(ctx context.Context, filter ConversationFilter) (int64, error)
	Update(ctx context.Context, conversation *Conversation) error
}
