package conversationrepo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database/dbschema"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database/transaction"
	"github.com/castmatch/castmatch-server/internal/utils/functional"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

type MessageGormRepository struct {
	db *transaction.Database
}

var _ conversation.MessageRepository = (*MessageGormRepository)(nil)

func NewMessageGormRepository(db *transaction.Database) conversation.MessageRepository {
	return &MessageGormRepository{db}
}

// CreateAndTouchConversation implements conversation.MessageRepository.
func (repo *MessageGormRepository) CreateAndTouchConversation(ctx context.Context, msg *conversation.Message) error {
	model := dbschema.NewSchemaMessage(msg)

	err := repo.db.RunInTransaction(ctx, func(ctx context.Context) error {
		tx := repo.db.GetTx(ctx)
		if err := tx.Create(model).Error; err != nil {
			return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to insert message", err, "f81a4586-18be-48c1-b940-98fa0347e1d1")
		}

		result := tx.Model(&dbschema.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]any{
				"message_count":   gorm.Expr("message_count + 1"),
				"last_message_at": model.CreatedAt,
				"updated_at":      model.CreatedAt,
			})
		if result.Error != nil {
			return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to update conversation counters", result.Error, "f71b2bd3-25f1-4b3c-a6d6-95a3bd62b724")
		}
		if result.RowsAffected == 0 {
			return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "Conversation not found", nil, "85d09679-47a1-4e5a-b8f9-6a30dd5fc7a5")
		}
		return nil
	})
	if err != nil {
		return err
	}

	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	msg.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByPublicID implements conversation.MessageRepository.
func (repo *MessageGormRepository) FindByPublicID(ctx context.Context, publicID string) (*conversation.Message, error) {
	return repo.first(ctx, visibleMessages(repo.db.GetTx(ctx)).Where("public_id = ?", publicID))
}

// FindByPublicIDUnscoped implements conversation.MessageRepository.
func (repo *MessageGormRepository) FindByPublicIDUnscoped(ctx context.Context, publicID string) (*conversation.Message, error) {
	return repo.first(ctx, repo.db.GetTx(ctx).Model(&dbschema.Message{}).Where("public_id = ?", publicID))
}

// FindNewestFirst implements conversation.MessageRepository.
func (repo *MessageGormRepository) FindNewestFirst(ctx context.Context, filter conversation.MessageFilter, limit, offset int) ([]*conversation.Message, error) {
	var rows []*dbschema.Message
	err := newestFirstQuery(repo.db.GetTx(ctx), filter, limit, offset).Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to find messages", err, "5ba4eb58-705d-4870-9e44-a52e64d75762")
	}
	return functional.Map(rows, func(item *dbschema.Message) *conversation.Message {
		return item.EtoD()
	}), nil
}

// UpdateContent implements conversation.MessageRepository.
func (repo *MessageGormRepository) UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) error {
	result := visibleMessages(repo.db.GetTx(ctx)).
		Where("id = ?", id).
		Updates(map[string]any{
			"content":    content,
			"edited_at":  editedAt,
			"updated_at": editedAt,
		})
	if result.Error != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to update message", result.Error, "276fefa9-2cfa-49e0-8c6a-b1c5602d90fa")
	}
	if result.RowsAffected == 0 {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "Message not found", nil, "aae82931-8cfb-449e-b58c-5e3677afb370")
	}
	return nil
}

// SoftDelete implements conversation.MessageRepository. Rows already deleted
// keep their original timestamp.
func (repo *MessageGormRepository) SoftDelete(ctx context.Context, id uint, deletedAt time.Time) error {
	err := visibleMessages(repo.db.GetTx(ctx)).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted_at": deletedAt,
			"updated_at": deletedAt,
		}).Error
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to delete message", err, "6897478a-2fec-48fc-816a-df7bc48726ef")
	}
	return nil
}

// MarkRead implements conversation.MessageRepository.
func (repo *MessageGormRepository) MarkRead(ctx context.Context, id uint, readAt time.Time) error {
	err := visibleMessages(repo.db.GetTx(ctx)).
		Where("id = ?", id).
		Where("read_at IS NULL").
		Update("read_at", readAt).Error
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to mark message read", err, "a2d2a54b-00f8-40ad-bcf2-631583b3db6a")
	}
	return nil
}

// Stats implements conversation.MessageRepository.
func (repo *MessageGormRepository) Stats(ctx context.Context, conversationID uint) (*conversation.MessageStats, error) {
	var row dbschema.MessageStatsRow
	err := visibleMessages(repo.db.GetTx(ctx)).
		Select(`COUNT(*) AS total,
			COUNT(*) FILTER (WHERE NOT is_ai_response) AS user_messages,
			COUNT(*) FILTER (WHERE is_ai_response) AS ai_messages,
			MIN(created_at) AS first_message_at,
			MAX(created_at) AS last_message_at`).
		Where("conversation_id = ?", conversationID).
		Scan(&row).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to aggregate messages", err, "bb98a0da-0827-49eb-992c-e4350563c55e")
	}
	return row.EtoD(), nil
}

func (repo *MessageGormRepository) first(ctx context.Context, db *gorm.DB) (*conversation.Message, error) {
	var row dbschema.Message
	if err := db.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "Message not found", err, "2d626fce-80a6-44c7-8692-de6227c67212")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to find message", err, "416c6b07-3574-4c14-9670-6ae4c2ca145e")
	}
	return row.EtoD(), nil
}

// visibleMessages scopes a query to messages that have not been soft-deleted.
func visibleMessages(db *gorm.DB) *gorm.DB {
	return db.Model(&dbschema.Message{}).Where("deleted_at IS NULL")
}

func newestFirstQuery(db *gorm.DB, filter conversation.MessageFilter, limit, offset int) *gorm.DB {
	q := visibleMessages(db).Where("conversation_id = ?", filter.ConversationID)
	if filter.BeforeID != nil {
		q = q.Where("id < ?", *filter.BeforeID)
	}
	if filter.Search != nil {
		q = q.Where("content ILIKE ?", "%"+escapeLike(*filter.Search)+"%")
	}
	q = q.Order("id DESC").Limit(limit)
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
