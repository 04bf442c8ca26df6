package conversationrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/domain/query"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database/dbschema"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database/transaction"
	"github.com/castmatch/castmatch-server/internal/utils/functional"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

type ConversationGormRepository struct {
	db *transaction.Database
}

var _ conversation.ConversationRepository = (*ConversationGormRepository)(nil)

func NewConversationGormRepository(db *transaction.Database) conversation.ConversationRepository {
	return &ConversationGormRepository{db}
}

// Create implements conversation.ConversationRepository.
func (repo *ConversationGormRepository) Create(ctx context.Context, conv *conversation.Conversation) error {
	model := dbschema.NewSchemaConversation(conv)
	if err := repo.db.GetTx(ctx).Create(model).Error; err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to create conversation", err, "dd496f23-2ac9-49c9-b807-073cb36dfb32")
	}
	conv.ID = model.ID
	conv.CreatedAt = model.CreatedAt
	conv.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByPublicID implements conversation.ConversationRepository.
func (repo *ConversationGormRepository) FindByPublicID(ctx context.Context, publicID string) (*conversation.Conversation, error) {
	var row dbschema.Conversation
	err := repo.db.GetTx(ctx).Where("public_id = ?", publicID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "Conversation not found", err, "72919501-17a2-46e9-b4f2-70edfd7652cd")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to find conversation", err, "cf5f3084-7cf1-4b9f-b1bb-e6fbb66f433f")
	}
	return row.EtoD(), nil
}

// FindByFilter implements conversation.ConversationRepository.
func (repo *ConversationGormRepository) FindByFilter(ctx context.Context, filter conversation.ConversationFilter, pagination query.Pagination) ([]*conversation.Conversation, error) {
	var rows []*dbschema.Conversation
	err := applyConversationFilter(repo.db.GetTx(ctx), filter).
		Order("last_message_at DESC NULLS LAST").
		Order("updated_at DESC").
		Order("id DESC").
		Limit(pagination.Limit).
		Offset(pagination.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to find conversations", err, "974745aa-49bb-4234-8032-273776e58a9f")
	}
	return functional.Map(rows, func(item *dbschema.Conversation) *conversation.Conversation {
		return item.EtoD()
	}), nil
}

// Count implements conversation.ConversationRepository.
func (repo *ConversationGormRepository) Count(ctx context.Context, filter conversation.ConversationFilter) (int64, error) {
	var total int64
	if err := applyConversationFilter(repo.db.GetTx(ctx), filter).Count(&total).Error; err != nil {
		return 0, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to count conversations", err, "385519e4-906f-44d4-a37d-a9dac665f7f1")
	}
	return total, nil
}

// Update implements conversation.ConversationRepository. Message counters are
// owned by the message insert path and are not written here.
func (repo *ConversationGormRepository) Update(ctx context.Context, conv *conversation.Conversation) error {
	model := dbschema.NewSchemaConversation(conv)
	result := repo.db.GetTx(ctx).
		Model(&dbschema.Conversation{}).
		Where("id = ?", conv.ID).
		Updates(map[string]any{
			"title":       model.Title,
			"description": model.Description,
			"context":     model.Context,
			"is_active":   model.IsActive,
			"updated_at":  conv.UpdatedAt,
		})
	if result.Error != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "failed to update conversation", result.Error, "9b97f132-5da7-4329-a425-8677380c8632")
	}
	if result.RowsAffected == 0 {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "Conversation not found", nil, "65723c38-6d83-482c-b4e6-9f974538f8bc")
	}
	return nil
}

func applyConversationFilter(db *gorm.DB, filter conversation.ConversationFilter) *gorm.DB {
	db = db.Model(&dbschema.Conversation{})
	if filter.UserID != nil {
		db = db.Where("user_id = ?", *filter.UserID)
	}
	if !filter.IncludeInactive {
		db = db.Where("is_active = ?", true)
	}
	return db
}
