package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"swapmeet/internal/domain/entity"
	"swapmeet/internal/domain/repository"
	apperrors "swapmeet/pkg/errors"
)

type gormChatRepository struct {
	db *gorm.DB
}

func NewGormChatRepository(db *gorm.DB) repository.ChatRepository {
	return &gormChatRepository{
		db: db,
	}
}

func (r *gormChatRepository) Create(ctx context.Context, chat *entity.Chat) error {
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return apperrors.Internal("Failed to create chat", err)
	}
	return nil
}

func (r *gormChatRepository) GetByID(ctx context.Context, id int64) (*entity.Chat, error) {
	var chat entity.Chat
	if err := r.db.WithContext(ctx).First(&chat, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Chat", err)
		}
		return nil, apperrors.Internal("Failed to get chat", err)
	}
	return &chat, nil
}

func (r *gormChatRepository) FindByParticipants(ctx context.Context, userA, userB, productID int64) (*entity.Chat, error) {
	var chat entity.Chat
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Where(
			"(product_owner_id = ? AND other_person_id = ?) OR (product_owner_id = ? AND other_person_id = ?)",
			userA, userB, userB, userA,
		).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Chat", err)
		}
		return nil, apperrors.Internal("Failed to find chat by participants", err)
	}
	return &chat, nil
}

func (r *gormChatRepository) ListVisibleByUserID(ctx context.Context, userID int64) ([]*entity.Chat, error) {
	var chats []*entity.Chat
	err := r.db.WithContext(ctx).
		Where(
			"(product_owner_id = ? AND owner_deleted = ?) OR (other_person_id = ? AND other_deleted = ?)",
			userID, false, userID, false,
		).
		Preload("LastMessage").
		Order("id DESC").
		Find(&chats).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to list chats", err)
	}
	return chats, nil
}

func (r *gormChatRepository) SetDeletedFlag(ctx context.Context, chatID int64, side entity.DeletionSide, deleted bool) error {
	column := "owner_deleted"
	if side == entity.SideOther {
		column = "other_deleted"
	}

	result := r.db.WithContext(ctx).
		Model(&entity.Chat{}).
		Where("id = ?", chatID).
		Update(column, deleted)
	if result.Error != nil {
		return apperrors.Internal("Failed to update chat deleted flag", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("Chat", nil)
	}
	return nil
}

func (r *gormChatRepository) DeleteWithMessages(ctx context.Context, chatID int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The chat row goes first so its last-message pointer never
		// dangles mid-transaction.
		result := tx.Delete(&entity.Chat{}, chatID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("chat_id = ?", chatID).Delete(&entity.Message{}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("Chat", err)
		}
		return apperrors.Internal("Failed to delete chat and messages", err)
	}
	return nil
}

func (r *gormChatRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		// last_message_id always points at the max-id message of the chat;
		// inserts are monotonic so the freshly created id qualifies.
		return tx.Model(&entity.Chat{}).
			Where("id = ?", message.ChatID).
			Updates(map[string]interface{}{
				"last_message_id": message.ID,
				"updated_at":      time.Now(),
			}).Error
	})
	if err != nil {
		return apperrors.Internal("Failed to create message", err)
	}
	return nil
}

func (r *gormChatRepository) ListMessages(ctx context.Context, chatID int64) ([]*entity.Message, error) {
	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to list messages", err)
	}
	return messages, nil
}

func (r *gormChatRepository) CountUnread(ctx context.Context, chatID, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("chat_id = ? AND receiver_id = ? AND is_read = ?", chatID, userID, false).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.Internal("Failed to count unread messages", err)
	}
	return count, nil
}

func (r *gormChatRepository) CountUnreadTotal(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Joins("JOIN chats ON chats.id = messages.chat_id").
		Where("messages.receiver_id = ? AND messages.is_read = ?", userID, false).
		Where(
			"(chats.product_owner_id = ? AND chats.owner_deleted = ?) OR (chats.other_person_id = ? AND chats.other_deleted = ?)",
			userID, false, userID, false,
		).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.Internal("Failed to count unread messages", err)
	}
	return count, nil
}

func (r *gormChatRepository) MarkMessagesRead(ctx context.Context, chatID, userID int64) (int64, error) {
	// The predicate only ever touches is_read, so a racing insert is simply
	// left unread until the next sync.
	result := r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("chat_id = ? AND receiver_id = ? AND is_read = ?", chatID, userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, apperrors.Internal("Failed to mark messages as read", result.Error)
	}
	return result.RowsAffected, nil
}
