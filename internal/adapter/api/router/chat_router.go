package router

import (
	"github.com/labstack/echo/v4"

	"swapmeet/internal/adapter/api/handler"
	"swapmeet/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all chat-related routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.GET("", chatHandler.GetUserChats)                 // GET /v1/chats?user_id= - Get user's chats
	chatGroup.GET("/:id/messages", chatHandler.GetChatMessages) // GET /v1/chats/:id/messages - Get chat messages
	chatGroup.PUT("/:id/read", chatHandler.MarkChatAsRead)      // PUT /v1/chats/:id/read - Mark chat as read
	chatGroup.DELETE("/:id", chatHandler.DeleteChat)            // DELETE /v1/chats/:id - Delete chat for one side

	messageGroup := e.Group("/v1/messages")
	messageGroup.Use(authMiddleware.Authenticate)

	messageGroup.POST("", chatHandler.SendMessage)                // POST /v1/messages - Send message
	messageGroup.GET("/unread-count", chatHandler.GetUnreadCount) // GET /v1/messages/unread-count?user_id=
}
