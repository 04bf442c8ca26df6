package dbschema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
)

// Conversation represents the database schema for conversations
type Conversation struct {
	BaseModel
	PublicID      string            `gorm:"type:varchar(50);uniqueIndex;not null"`
	UserID        string            `gorm:"type:varchar(128);index:idx_conversations_user_activity;not null"`
	Title         string            `gorm:"type:varchar(200);not null"`
	Description   *string           `gorm:"type:text"`
	Context       datatypes.JSONMap `gorm:"type:jsonb;not null"`
	IsActive      bool              `gorm:"not null"`
	MessageCount  int               `gorm:"not null"`
	LastMessageAt *time.Time        `gorm:"type:timestamptz"`
}

func NewSchemaConversation(c *conversation.Conversation) *Conversation {
	return &Conversation{
		BaseModel: BaseModel{
			ID:        c.ID,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		},
		PublicID:      c.PublicID,
		UserID:        c.UserID,
		Title:         c.Title,
		Description:   c.Description,
		Context:       datatypes.JSONMap(copyMap(c.Context)),
		IsActive:      c.IsActive,
		MessageCount:  c.MessageCount,
		LastMessageAt: c.LastMessageAt,
	}
}

// EtoD converts the row into the domain entity.
func (c *Conversation) EtoD() *conversation.Conversation {
	return &conversation.Conversation{
		ID:            c.ID,
		PublicID:      c.PublicID,
		UserID:        c.UserID,
		Title:         c.Title,
		Description:   c.Description,
		Context:       copyMap(c.Context),
		IsActive:      c.IsActive,
		MessageCount:  c.MessageCount,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}
