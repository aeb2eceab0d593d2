package repository

import (
	"context"

	"swapmeet/internal/domain/entity"
)

// ChatRepository is the persistence gateway for chats and their messages.
// Implementations own their concurrency control; the cascade in
// DeleteWithMessages and the insert in CreateMessage are transactional.
type ChatRepository interface {
	Create(ctx context.Context, chat *entity.Chat) error
	GetByID(ctx context.Context, id int64) (*entity.Chat, error)
	// FindByParticipants matches the unordered {userA, userB} pair against
	// {product_owner_id, other_person_id} for the given product.
	FindByParticipants(ctx context.Context, userA, userB, productID int64) (*entity.Chat, error)
	// ListVisibleByUserID returns chats where the requester's own deleted
	// flag is false, newest chat first, with the last message attached.
	ListVisibleByUserID(ctx context.Context, userID int64) ([]*entity.Chat, error)
	SetDeletedFlag(ctx context.Context, chatID int64, side entity.DeletionSide, deleted bool) error
	// DeleteWithMessages removes the chat row and all its messages in one
	// transaction.
	DeleteWithMessages(ctx context.Context, chatID int64) error

	// CreateMessage inserts the message and advances the chat's
	// last-message pointer in the same transaction.
	CreateMessage(ctx context.Context, message *entity.Message) error
	// ListMessages returns the chat's full message list, id ascending.
	ListMessages(ctx context.Context, chatID int64) ([]*entity.Message, error)
	CountUnread(ctx context.Context, chatID, userID int64) (int64, error)
	// CountUnreadTotal aggregates unread messages across the user's visible
	// chats only.
	CountUnreadTotal(ctx context.Context, userID int64) (int64, error)
	// MarkMessagesRead flips is_read on the user's unread messages in the
	// chat and returns the number of rows updated.
	MarkMessagesRead(ctx context.Context, chatID, userID int64) (int64, error)
}
