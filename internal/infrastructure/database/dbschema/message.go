package dbschema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
)

// Message represents the database schema for messages. DeletedAt is a plain
// nullable column: every read path filters it explicitly.
type Message struct {
	BaseModel
	PublicID             string            `gorm:"type:varchar(50);uniqueIndex;not null"`
	ConversationID       uint              `gorm:"index:idx_messages_conversation_visible;not null"`
	Conversation         *Conversation     `gorm:"foreignKey:ConversationID"`
	ConversationPublicID string            `gorm:"type:varchar(50);not null"`
	UserID               *string           `gorm:"type:varchar(128)"`
	Content              string            `gorm:"type:text;not null"`
	Type                 string            `gorm:"type:varchar(20);not null"`
	ParentMessageID      *string           `gorm:"type:varchar(50)"`
	IsAIResponse         bool              `gorm:"column:is_ai_response;not null"`
	Metadata             datatypes.JSONMap `gorm:"type:jsonb;not null"`
	EditedAt             *time.Time        `gorm:"type:timestamptz"`
	DeletedAt            *time.Time        `gorm:"type:timestamptz"`
	ReadAt               *time.Time        `gorm:"type:timestamptz"`
}

func NewSchemaMessage(m *conversation.Message) *Message {
	return &Message{
		BaseModel: BaseModel{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		PublicID:             m.PublicID,
		ConversationID:       m.ConversationID,
		ConversationPublicID: m.ConversationPublicID,
		UserID:               m.UserID,
		Content:              m.Content,
		Type:                 string(m.Type),
		ParentMessageID:      m.ParentMessageID,
		IsAIResponse:         m.IsAIResponse,
		Metadata:             datatypes.JSONMap(copyMap(m.Metadata)),
		EditedAt:             m.EditedAt,
		DeletedAt:            m.DeletedAt,
		ReadAt:               m.ReadAt,
	}
}

// EtoD converts the row into the domain entity.
func (m *Message) EtoD() *conversation.Message {
	return &conversation.Message{
		ID:                   m.ID,
		PublicID:             m.PublicID,
		ConversationID:       m.ConversationID,
		ConversationPublicID: m.ConversationPublicID,
		UserID:               m.UserID,
		Content:              m.Content,
		Type:                 conversation.MessageType(m.Type),
		ParentMessageID:      m.ParentMessageID,
		IsAIResponse:         m.IsAIResponse,
		Metadata:             copyMap(m.Metadata),
		EditedAt:             m.EditedAt,
		DeletedAt:            m.DeletedAt,
		ReadAt:               m.ReadAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// MessageStatsRow is the scan target of the stats aggregate.
type MessageStatsRow struct {
	Total          int64
	UserMessages   int64
	AIMessages     int64 `gorm:"column:ai_messages"`
	FirstMessageAt *time.Time
	LastMessageAt  *time.Time
}

func (r MessageStatsRow) EtoD() *conversation.MessageStats {
	return &conversation.MessageStats{
		Total:          r.Total,
		UserMessages:   r.UserMessages,
		AIMessages:     r.AIMessages,
		FirstMessageAt: r.FirstMessageAt,
		LastMessageAt:  r.LastMessageAt,
	}
}
