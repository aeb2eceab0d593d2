package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"swapmeet/internal/usecase"
	apperrors "swapmeet/pkg/errors"
	"swapmeet/pkg/response"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type sendMessageRequest struct {
	SenderID   int64  `json:"sender_id" validate:"required,gt=0"`
	ReceiverID int64  `json:"receiver_id" validate:"required,gt=0"`
	ProductID  int64  `json:"product_id" validate:"required,gt=0"`
	Content    string `json:"content" validate:"required"`
}

type chatActionRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// GetUserChats returns the requester's visible chats with unread counts and
// the last message of each.
func (h *ChatHandler) GetUserChats(c echo.Context) error {
	userID, err := queryID(c, "user_id")
	if err != nil {
		return response.Error(c, err)
	}

	chats, err := h.chatUseCase.GetUserChats(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, chats)
}

// GetChatMessages returns the full ordered message list for a chat. Passing
// user_id additionally schedules the caller's unread messages to be marked
// read after the response, without delaying it.
func (h *ChatHandler) GetChatMessages(c echo.Context) error {
	chatID, err := pathID(c, "id")
	if err != nil {
		return response.Error(c, err)
	}

	// Optional: absent user_id means a read-only fetch.
	var userID int64
	if raw := c.QueryParam("user_id"); raw != "" {
		if userID, err = parseID(raw, "user_id"); err != nil {
			return response.Error(c, err)
		}
	}

	messages, err := h.chatUseCase.GetChatMessages(c.Request().Context(), chatID, userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, messages)
}

// SendMessage is the HTTP variant of the send protocol; the websocket path
// goes through the same usecase.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, apperrors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), usecase.SendMessageInput{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		ProductID:  req.ProductID,
		Content:    req.Content,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// MarkChatAsRead synchronously marks the chat read for the given user and
// pushes the reset event to their live sessions.
func (h *ChatHandler) MarkChatAsRead(c echo.Context) error {
	chatID, err := pathID(c, "id")
	if err != nil {
		return response.Error(c, err)
	}

	var req chatActionRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, apperrors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.MarkChatAsRead(c.Request().Context(), chatID, req.UserID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, nil)
}

// DeleteChat soft-deletes the chat for the requesting participant.
func (h *ChatHandler) DeleteChat(c echo.Context) error {
	chatID, err := pathID(c, "id")
	if err != nil {
		return response.Error(c, err)
	}

	var req chatActionRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, apperrors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.DeleteChat(c.Request().Context(), chatID, req.UserID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Chat deleted for you"})
}

// GetUnreadCount returns the aggregate unread badge value for a user.
func (h *ChatHandler) GetUnreadCount(c echo.Context) error {
	userID, err := queryID(c, "user_id")
	if err != nil {
		return response.Error(c, err)
	}

	count, err := h.chatUseCase.GetUnreadCount(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int64{"count": count})
}

func pathID(c echo.Context, name string) (int64, error) {
	return parseID(c.Param(name), name)
}

func queryID(c echo.Context, name string) (int64, error) {
	return parseID(c.QueryParam(name), name)
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.BadRequest("Valid "+name+" is required", err)
	}
	return id, nil
}
