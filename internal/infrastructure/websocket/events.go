package websocket

import (
	"context"
	"encoding/json"
	"time"
)

// Wire event names. These are the contract with clients.
const (
	// client -> server
	EventJoin             = "join"
	EventSendMessage      = "send_message"
	EventMarkMessagesRead = "mark_messages_read"

	// server -> client
	EventReceiveMessage    = "receive_message"
	EventUnreadCountUpdate = "unread_count_update"
	EventMessageError      = "message_error"
)

// Event is the JSON envelope used in both directions.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// rawEvent defers payload decoding until the type is known.
type rawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinPayload struct {
	UserID int64 `json:"user_id"`
}

type SendMessagePayload struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	ProductID  int64  `json:"product_id"`
	Content    string `json:"content"`
}

type MarkReadPayload struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

type ReceiveMessagePayload struct {
	ChatID     int64     `json:"chat_id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// UnreadCountPayload carries either a live increment or a whole-chat reset.
type UnreadCountPayload struct {
	UserID    int64 `json:"user_id"`
	ChatID    int64 `json:"chat_id"`
	Increment int   `json:"increment,omitempty"`
	ResetChat bool  `json:"reset_chat,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// EventHandler receives chat events read off client connections. It is bound
// after construction to keep the registry free of usecase dependencies.
type EventHandler interface {
	HandleSendMessage(ctx context.Context, p SendMessagePayload) error
	HandleMarkRead(ctx context.Context, p MarkReadPayload) error
}
