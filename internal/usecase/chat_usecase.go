package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"swapmeet/internal/domain/entity"
	"swapmeet/internal/domain/repository"
	ws "swapmeet/internal/infrastructure/websocket"
	apperrors "swapmeet/pkg/errors"
	"swapmeet/pkg/logger"
)

type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
	wsManager   *ws.Manager

	// Serializes find-or-create per participant-pair/product triple so two
	// near-simultaneous first messages cannot race past the existence check.
	// Striped over a fixed table so the lock set never grows with the number
	// of pairs ever seen.
	sendLocks [64]sync.Mutex
}

func NewChatUseCase(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	wsManager *ws.Manager,
) *ChatUseCase {
	return &ChatUseCase{
		chatRepo:    chatRepo,
		userRepo:    userRepo,
		productRepo: productRepo,
		wsManager:   wsManager,
	}
}

type SendMessageInput struct {
	SenderID   int64
	ReceiverID int64
	ProductID  int64
	Content    string
}

type MessageResponse struct {
	*entity.Message
}

// ChatSummary is one entry of a user's chat list.
type ChatSummary struct {
	*entity.Chat
	Product     *entity.Product `json:"product,omitempty"`
	OtherUser   *entity.User    `json:"other_user,omitempty"`
	UnreadCount int64           `json:"unread_count"`
}

// SendMessage validates, persists and fans out one message. Empty content
// (after trimming) is rejected with a validation error rather than dropped
// silently. No delivery event is emitted unless the message was persisted.
func (uc *ChatUseCase) SendMessage(ctx context.Context, input SendMessageInput) (*MessageResponse, error) {
	if input.SenderID <= 0 || input.ReceiverID <= 0 || input.ProductID <= 0 {
		return nil, apperrors.BadRequest("sender_id, receiver_id and product_id are required", nil)
	}
	if input.SenderID == input.ReceiverID {
		return nil, apperrors.BadRequest("You cannot message yourself", nil)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, apperrors.BadRequest("Message content must not be empty", nil)
	}

	unlock := uc.lockPair(input.SenderID, input.ReceiverID, input.ProductID)
	defer unlock()

	chat, err := uc.resolveChat(ctx, input.SenderID, input.ReceiverID, input.ProductID)
	if err != nil {
		return nil, err
	}

	message := &entity.Message{
		ChatID:     chat.ID,
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
		Content:    content,
	}
	if err := uc.chatRepo.CreateMessage(ctx, message); err != nil {
		logger.Error("failed to persist message for chat %d: %v", chat.ID, err)
		return nil, err
	}

	payload := ws.ReceiveMessagePayload{
		ChatID:     chat.ID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Content:    message.Content,
		CreatedAt:  message.CreatedAt,
	}
	// The sender gets the echo too so multiple sessions stay in sync.
	uc.wsManager.SendEvent(input.ReceiverID, ws.EventReceiveMessage, payload)
	uc.wsManager.SendEvent(input.SenderID, ws.EventReceiveMessage, payload)
	uc.wsManager.SendEvent(input.ReceiverID, ws.EventUnreadCountUpdate, ws.UnreadCountPayload{
		UserID:    input.ReceiverID,
		ChatID:    chat.ID,
		Increment: 1,
	})

	return &MessageResponse{Message: message}, nil
}

// resolveChat finds the chat for the unordered participant pair and product,
// creating it if absent. The product's seller becomes product_owner_id. When
// the sender had soft-deleted the chat, their flag is cleared: re-engaging
// undeletes their side.
func (uc *ChatUseCase) resolveChat(ctx context.Context, senderID, receiverID, productID int64) (*entity.Chat, error) {
	chat, err := uc.chatRepo.FindByParticipants(ctx, senderID, receiverID, productID)
	if err == nil {
		if side, ok := chat.Side(senderID); ok && chat.DeletedBy(side) {
			if err := uc.chatRepo.SetDeletedFlag(ctx, chat.ID, side, false); err != nil {
				return nil, err
			}
			if side == entity.SideOwner {
				chat.OwnerDeleted = false
			} else {
				chat.OtherDeleted = false
			}
		}
		return chat, nil
	}
	if !apperrors.Is(err, "NOT_FOUND") {
		return nil, err
	}

	product, err := uc.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	var other int64
	switch product.SellerID {
	case senderID:
		other = receiverID
	case receiverID:
		other = senderID
	default:
		return nil, apperrors.BadRequest("One chat participant must own the product", nil)
	}

	chat = &entity.Chat{
		ProductOwnerID: product.SellerID,
		OtherPersonID:  other,
		ProductID:      productID,
	}
	if err := uc.chatRepo.Create(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// GetUserChats returns the user's visible chats, newest first, decorated with
// the product, the counterparty and the authoritative unread count.
func (uc *ChatUseCase) GetUserChats(ctx context.Context, userID int64) ([]*ChatSummary, error) {
	if userID <= 0 {
		return nil, apperrors.BadRequest("user_id is required", nil)
	}

	chats, err := uc.chatRepo.ListVisibleByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]*ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := &ChatSummary{Chat: chat}

		if product, err := uc.productRepo.GetByID(ctx, chat.ProductID); err == nil {
			summary.Product = product
		} else {
			logger.Warn("product %d not found for chat %d: %v", chat.ProductID, chat.ID, err)
		}

		if otherUser, err := uc.userRepo.GetByID(ctx, chat.Counterparty(userID)); err == nil {
			summary.OtherUser = otherUser
		} else {
			logger.Warn("counterparty not found for chat %d: %v", chat.ID, err)
		}

		unread, err := uc.chatRepo.CountUnread(ctx, chat.ID, userID)
		if err != nil {
			return nil, err
		}
		summary.UnreadCount = unread

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// GetChatMessages returns the chat's full ordered message list. A missing
// chat is not an error: it means "no conversation yet" and yields an empty
// list. When userID is set, the caller's unread messages are flipped to read
// by a detached goroutine after the list is assembled; failures there are
// logged and swallowed, never surfaced to this call.
func (uc *ChatUseCase) GetChatMessages(ctx context.Context, chatID, userID int64) ([]*entity.Message, error) {
	if chatID <= 0 {
		return nil, apperrors.BadRequest("chat_id is required", nil)
	}

	if _, err := uc.chatRepo.GetByID(ctx, chatID); err != nil {
		if apperrors.Is(err, "NOT_FOUND") {
			return []*entity.Message{}, nil
		}
		return nil, err
	}

	messages, err := uc.chatRepo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if userID > 0 {
		go uc.syncReadState(chatID, userID)
	}

	return messages, nil
}

func (uc *ChatUseCase) syncReadState(chatID, userID int64) {
	// Detached from the request context: the retrieval response must not
	// wait on, or fail because of, this update.
	if _, err := uc.chatRepo.MarkMessagesRead(context.Background(), chatID, userID); err != nil {
		logger.Warn("read-state sync failed for chat %d user %d: %v", chatID, userID, err)
	}
}

// MarkChatAsRead flips the user's unread messages in the chat and pushes a
// reset event so every session of that user zeroes its counter.
func (uc *ChatUseCase) MarkChatAsRead(ctx context.Context, chatID, userID int64) error {
	if chatID <= 0 || userID <= 0 {
		return apperrors.BadRequest("chat_id and user_id are required", nil)
	}

	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if _, ok := chat.Side(userID); !ok {
		return apperrors.Forbidden("User is not a participant in this chat", nil)
	}

	if _, err := uc.chatRepo.MarkMessagesRead(ctx, chatID, userID); err != nil {
		return err
	}

	uc.wsManager.SendEvent(userID, ws.EventUnreadCountUpdate, ws.UnreadCountPayload{
		UserID:    userID,
		ChatID:    chatID,
		ResetChat: true,
	})

	return nil
}

// DeleteChat soft-deletes the chat for the requesting side. Once both sides
// have deleted, the chat and all its messages are removed in one transaction.
// A concurrent hard delete that already removed the row is treated as done.
func (uc *ChatUseCase) DeleteChat(ctx context.Context, chatID, userID int64) error {
	if chatID <= 0 || userID <= 0 {
		return apperrors.BadRequest("chat_id and user_id are required", nil)
	}

	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return err
	}

	side, ok := chat.Side(userID)
	if !ok {
		return apperrors.Forbidden("User is not part of this chat", nil)
	}

	if err := uc.chatRepo.SetDeletedFlag(ctx, chatID, side, true); err != nil {
		if apperrors.Is(err, "NOT_FOUND") {
			// Destroyed by a concurrent delete between the read and the
			// update; the requester's outcome is the same.
			return nil
		}
		return err
	}

	// The cascade decision must come from the flags as they stand after our
	// own update. The snapshot from before it cannot see a concurrent delete
	// by the other side, and two simultaneous opposite-side deletes would
	// otherwise both skip the cascade and strand an invisible chat.
	updated, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		if apperrors.Is(err, "NOT_FOUND") {
			return nil
		}
		return err
	}
	if updated.BothDeleted() {
		if err := uc.chatRepo.DeleteWithMessages(ctx, chatID); err != nil {
			if apperrors.Is(err, "NOT_FOUND") {
				// Lost the race against another hard delete; the chat is
				// gone either way.
				return nil
			}
			return err
		}
		logger.Info("chat %d hard-deleted after both sides left", chatID)
	}

	return nil
}

// GetUnreadCount returns the user's aggregate unread count across all chats
// still visible to them.
func (uc *ChatUseCase) GetUnreadCount(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, apperrors.BadRequest("user_id is required", nil)
	}
	return uc.chatRepo.CountUnreadTotal(ctx, userID)
}

// HandleSendMessage implements websocket.EventHandler.
func (uc *ChatUseCase) HandleSendMessage(ctx context.Context, p ws.SendMessagePayload) error {
	_, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		ProductID:  p.ProductID,
		Content:    p.Content,
	})
	return err
}

// HandleMarkRead implements websocket.EventHandler.
func (uc *ChatUseCase) HandleMarkRead(ctx context.Context, p ws.MarkReadPayload) error {
	return uc.MarkChatAsRead(ctx, p.ChatID, p.UserID)
}

func (uc *ChatUseCase) lockPair(userA, userB, productID int64) func() {
	if userA > userB {
		userA, userB = userB, userA
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d:%d", userA, userB, productID)

	lock := &uc.sendLocks[h.Sum64()%uint64(len(uc.sendLocks))]
	lock.Lock()
	return lock.Unlock
}
