package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"swapmeet/internal/adapter/repository"
	"swapmeet/internal/domain/entity"
	domainrepo "swapmeet/internal/domain/repository"
	"swapmeet/internal/infrastructure/database"
	ws "swapmeet/internal/infrastructure/websocket"
	apperrors "swapmeet/pkg/errors"
)

func setupTestUseCase(t *testing.T) (*ChatUseCase, *gorm.DB, *ws.Manager) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	// Every pooled connection to :memory: is its own database; pin the pool
	// so the read-sync goroutine sees the same data as the test.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	seller := &entity.User{ID: 1, Username: "seller", Email: "seller@example.com"}
	buyer := &entity.User{ID: 2, Username: "buyer", Email: "buyer@example.com"}
	visitor := &entity.User{ID: 3, Username: "visitor", Email: "visitor@example.com"}
	require.NoError(t, db.Create([]*entity.User{seller, buyer, visitor}).Error)
	require.NoError(t, db.Create(&entity.Product{ID: 42, SellerID: 1, Title: "Vintage lamp", Price: 25}).Error)

	manager := ws.NewManager()
	uc := NewChatUseCase(
		repository.NewGormChatRepository(db),
		repository.NewGormUserRepository(db),
		repository.NewGormProductRepository(db),
		manager,
	)
	manager.Bind(uc)

	return uc, db, manager
}

func drainEvent(t *testing.T, client *ws.Client) ws.Event {
	t.Helper()
	select {
	case raw := <-client.Send:
		var event ws.Event
		require.NoError(t, json.Unmarshal(raw, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("expected an event on the send channel")
		return ws.Event{}
	}
}

func TestSendMessageCreatesChatWithProductOwner(t *testing.T) {
	uc, db, _ := setupTestUseCase(t)
	ctx := context.Background()

	// Buyer opens the conversation; the seller side is derived from the
	// product, not from who sent first.
	resp, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "Is this still available?",
	})
	require.NoError(t, err)
	assert.NotZero(t, resp.ID)

	var chat entity.Chat
	require.NoError(t, db.First(&chat, resp.ChatID).Error)
	assert.Equal(t, int64(1), chat.ProductOwnerID)
	assert.Equal(t, int64(2), chat.OtherPersonID)
	assert.Equal(t, int64(42), chat.ProductID)
	assert.False(t, chat.OwnerDeleted)
	assert.False(t, chat.OtherDeleted)

	count, err := uc.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSendMessageReusesChatInEitherDirection(t *testing.T) {
	uc, db, _ := setupTestUseCase(t)
	ctx := context.Background()

	first, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "hello",
	})
	require.NoError(t, err)

	reply, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 1, ReceiverID: 2, ProductID: 42, Content: "hi back",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ChatID, reply.ChatID)

	var total int64
	require.NoError(t, db.Model(&entity.Chat{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)
}

func TestSendMessageValidation(t *testing.T) {
	uc, _, _ := setupTestUseCase(t)
	ctx := context.Background()

	_, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "   ",
	})
	assert.True(t, apperrors.Is(err, "VALIDATION_ERROR"))

	_, err = uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 2, ProductID: 42, Content: "talking to myself",
	})
	assert.True(t, apperrors.Is(err, "VALIDATION_ERROR"))

	_, err = uc.SendMessage(ctx, SendMessageInput{
		SenderID: 0, ReceiverID: 1, ProductID: 42, Content: "anonymous",
	})
	assert.True(t, apperrors.Is(err, "VALIDATION_ERROR"))

	// Neither participant owns product 42.
	_, err = uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 3, ProductID: 42, Content: "about someone else's lamp",
	})
	assert.True(t, apperrors.Is(err, "VALIDATION_ERROR"))

	_, err = uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 999, Content: "ghost product",
	})
	assert.True(t, apperrors.Is(err, "NOT_FOUND"))
}

func TestSendMessageClearsSendersDeletedFlag(t *testing.T) {
	uc, db, _ := setupTestUseCase(t)
	ctx := context.Background()

	resp, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "first contact",
	})
	require.NoError(t, err)

	require.NoError(t, uc.DeleteChat(ctx, resp.ChatID, 2))

	chats, err := uc.GetUserChats(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, chats)

	// Writing again revives the buyer's side of the same chat.
	again, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "changed my mind",
	})
	require.NoError(t, err)
	assert.Equal(t, resp.ChatID, again.ChatID)

	var chat entity.Chat
	require.NoError(t, db.First(&chat, resp.ChatID).Error)
	assert.False(t, chat.OtherDeleted)

	chats, err = uc.GetUserChats(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestSendMessageDeliversToConnectedClients(t *testing.T) {
	uc, _, manager := setupTestUseCase(t)
	ctx := context.Background()

	sender := ws.NewClient(nil)
	receiver := ws.NewClient(nil)
	manager.Register(2, sender)
	manager.Register(1, receiver)

	_, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "ping",
	})
	require.NoError(t, err)

	// Receiver gets the message plus a counter increment.
	event := drainEvent(t, receiver)
	assert.Equal(t, ws.EventReceiveMessage, event.Type)
	event = drainEvent(t, receiver)
	assert.Equal(t, ws.EventUnreadCountUpdate, event.Type)

	// Sender gets the echo only.
	event = drainEvent(t, sender)
	assert.Equal(t, ws.EventReceiveMessage, event.Type)
	assert.Empty(t, sender.Send)
}

func TestSendMessageWithoutConnectionsStillPersists(t *testing.T) {
	uc, db, _ := setupTestUseCase(t)

	resp, err := uc.SendMessage(context.Background(), SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "offline delivery",
	})
	require.NoError(t, err)

	var stored entity.Message
	require.NoError(t, db.First(&stored, resp.ID).Error)
	assert.Equal(t, "offline delivery", stored.Content)
	assert.False(t, stored.IsRead)
}

func TestGetUserChatsSummaries(t *testing.T) {
	uc, _, _ := setupTestUseCase(t)
	ctx := context.Background()

	_, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "offer: 20?",
	})
	require.NoError(t, err)

	chats, err := uc.GetUserChats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chats, 1)

	summary := chats[0]
	require.NotNil(t, summary.Product)
	assert.Equal(t, "Vintage lamp", summary.Product.Title)
	require.NotNil(t, summary.OtherUser)
	assert.Equal(t, "buyer", summary.OtherUser.Username)
	assert.Equal(t, int64(1), summary.UnreadCount)
	require.NotNil(t, summary.LastMessage)
	assert.Equal(t, "offer: 20?", summary.LastMessage.Content)

	// From the buyer's side the counterparty flips and nothing is unread.
	chats, err = uc.GetUserChats(ctx, 2)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "seller", chats[0].OtherUser.Username)
	assert.Equal(t, int64(0), chats[0].UnreadCount)
}

func TestGetChatMessagesMissingChatIsEmpty(t *testing.T) {
	uc, _, _ := setupTestUseCase(t)

	messages, err := uc.GetChatMessages(context.Background(), 12345, 1)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestGetChatMessagesSyncsReadState(t *testing.T) {
	uc, _, _ := setupTestUseCase(t)
	ctx := context.Background()

	resp, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "read me",
	})
	require.NoError(t, err)

	messages, err := uc.GetChatMessages(ctx, resp.ChatID, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	// The response reflects the state at read time; the flip happens behind it.
	assert.False(t, messages[0].IsRead)

	require.Eventually(t, func() bool {
		count, err := uc.GetUnreadCount(ctx, 1)
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetChatMessagesWithoutUserKeepsUnread(t *testing.T) {
	uc, _, _ := setupTestUseCase(t)
	ctx := context.Background()

	resp, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "still unread",
	})
	require.NoError(t, err)

	_, err = uc.GetChatMessages(ctx, resp.ChatID, 0)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	count, err := uc.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkChatAsRead(t *testing.T) {
	uc, _, manager := setupTestUseCase(t)
	ctx := context.Background()

	resp, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "unread pile",
	})
	require.NoError(t, err)

	session := ws.NewClient(nil)
	manager.Register(1, session)

	require.NoError(t, uc.MarkChatAsRead(ctx, resp.ChatID, 1))

	count, err := uc.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	event := drainEvent(t, session)
	assert.Equal(t, ws.EventUnreadCountUpdate, event.Type)
	data, ok := event.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["reset_chat"])

	// Outsiders cannot mark someone else's chat.
	err = uc.MarkChatAsRead(ctx, resp.ChatID, 3)
	assert.True(t, apperrors.Is(err, "FORBIDDEN"))
}

func TestDeleteChatLifecycle(t *testing.T) {
	uc, db, _ := setupTestUseCase(t)
	ctx := context.Background()

	resp, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "short-lived",
	})
	require.NoError(t, err)

	err = uc.DeleteChat(ctx, resp.ChatID, 3)
	assert.True(t, apperrors.Is(err, "FORBIDDEN"))

	// First side: hidden for the deleter, intact for the other.
	require.NoError(t, uc.DeleteChat(ctx, resp.ChatID, 1))

	chats, err := uc.GetUserChats(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, chats)

	chats, err = uc.GetUserChats(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, chats, 1)

	// Second side: the row and its messages disappear.
	require.NoError(t, uc.DeleteChat(ctx, resp.ChatID, 2))

	var remaining int64
	require.NoError(t, db.Model(&entity.Chat{}).Count(&remaining).Error)
	assert.Equal(t, int64(0), remaining)
	require.NoError(t, db.Model(&entity.Message{}).Count(&remaining).Error)
	assert.Equal(t, int64(0), remaining)

	err = uc.DeleteChat(ctx, resp.ChatID, 2)
	assert.True(t, apperrors.Is(err, "NOT_FOUND"))
}

// stalledDeleteRepo holds every SetDeletedFlag until both delete calls have
// taken their initial chat snapshot, forcing the interleaving where neither
// snapshot can see the other side's flag.
type stalledDeleteRepo struct {
	domainrepo.ChatRepository
	snapshots sync.WaitGroup
	reads     int32
}

func (r *stalledDeleteRepo) GetByID(ctx context.Context, id int64) (*entity.Chat, error) {
	chat, err := r.ChatRepository.GetByID(ctx, id)
	if atomic.AddInt32(&r.reads, 1) <= 2 {
		r.snapshots.Done()
	}
	return chat, err
}

func (r *stalledDeleteRepo) SetDeletedFlag(ctx context.Context, chatID int64, side entity.DeletionSide, deleted bool) error {
	r.snapshots.Wait()
	return r.ChatRepository.SetDeletedFlag(ctx, chatID, side, deleted)
}

func TestDeleteChatConcurrentOppositeSides(t *testing.T) {
	uc, db, manager := setupTestUseCase(t)
	ctx := context.Background()

	resp, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "soon gone",
	})
	require.NoError(t, err)

	stalled := &stalledDeleteRepo{ChatRepository: repository.NewGormChatRepository(db)}
	stalled.snapshots.Add(2)
	raceUC := NewChatUseCase(
		stalled,
		repository.NewGormUserRepository(db),
		repository.NewGormProductRepository(db),
		manager,
	)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, userID := range []int64{1, 2} {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			errs[i] = raceUC.DeleteChat(ctx, resp.ChatID, userID)
		}(i, userID)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Both sides deleted means destroyed, even when neither delete saw the
	// other's flag in its initial read.
	var chats, messages int64
	require.NoError(t, db.Model(&entity.Chat{}).Count(&chats).Error)
	assert.Equal(t, int64(0), chats)
	require.NoError(t, db.Model(&entity.Message{}).Count(&messages).Error)
	assert.Equal(t, int64(0), messages)
}

func TestConcurrentFirstSendsCreateOneChat(t *testing.T) {
	uc, db, _ := setupTestUseCase(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := uc.SendMessage(ctx, SendMessageInput{
				SenderID: 2, ReceiverID: 1, ProductID: 42, Content: fmt.Sprintf("hello %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var chats, messages int64
	require.NoError(t, db.Model(&entity.Chat{}).Count(&chats).Error)
	assert.Equal(t, int64(1), chats)
	require.NoError(t, db.Model(&entity.Message{}).Count(&messages).Error)
	assert.Equal(t, int64(4), messages)
}

func TestDeleteChatRepeatedBySameSide(t *testing.T) {
	uc, db, _ := setupTestUseCase(t)
	ctx := context.Background()

	resp, err := uc.SendMessage(ctx, SendMessageInput{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "hello",
	})
	require.NoError(t, err)

	require.NoError(t, uc.DeleteChat(ctx, resp.ChatID, 1))
	// Same side again is idempotent, not a hard delete.
	require.NoError(t, uc.DeleteChat(ctx, resp.ChatID, 1))

	var chat entity.Chat
	require.NoError(t, db.First(&chat, resp.ChatID).Error)
	assert.True(t, chat.OwnerDeleted)
	assert.False(t, chat.OtherDeleted)
}

func TestWebSocketEventHandlers(t *testing.T) {
	uc, _, _ := setupTestUseCase(t)
	ctx := context.Background()

	require.NoError(t, uc.HandleSendMessage(ctx, ws.SendMessagePayload{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "via socket",
	}))

	chats, err := uc.GetUserChats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chats, 1)

	require.NoError(t, uc.HandleMarkRead(ctx, ws.MarkReadPayload{
		UserID: 1, ChatID: chats[0].Chat.ID,
	}))

	count, err := uc.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	err = uc.HandleSendMessage(ctx, ws.SendMessagePayload{
		SenderID: 2, ReceiverID: 1, ProductID: 42, Content: "",
	})
	assert.True(t, apperrors.Is(err, "VALIDATION_ERROR"))
}
