package router

import (
	"github.com/labstack/echo/v4"

	"swapmeet/internal/adapter/api/handler"
	"swapmeet/internal/adapter/api/middleware"
)

func Setup(e *echo.Echo, chatHandler *handler.ChatHandler, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	SetupChatRouter(e, chatHandler, authMiddleware)
	SetupWebSocketRouter(e, wsHandler)
}
