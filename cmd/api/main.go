package main

import (
	"log"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"swapmeet/internal/adapter/api"
	"swapmeet/internal/adapter/api/handler"
	apimiddleware "swapmeet/internal/adapter/api/middleware"
	"swapmeet/internal/adapter/api/router"
	"swapmeet/internal/adapter/repository"
	"swapmeet/internal/infrastructure/database"
	"swapmeet/internal/infrastructure/websocket"
	"swapmeet/internal/usecase"
	"swapmeet/pkg/config"
	"swapmeet/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Environment == "development")
	defer logger.Sync()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	chatRepo := repository.NewGormChatRepository(db)
	userRepo := repository.NewGormUserRepository(db)
	productRepo := repository.NewGormProductRepository(db)

	wsManager := websocket.NewManager()

	chatUseCase := usecase.NewChatUseCase(chatRepo, userRepo, productRepo, wsManager)
	wsManager.Bind(chatUseCase)

	e := echo.New()

	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(cfg.JWTSecret)

	chatHandler := handler.NewChatHandler(chatUseCase)
	wsHandler := handler.NewWebSocketHandler(wsManager)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	router.Setup(e, chatHandler, wsHandler, authMiddleware)

	logger.Info("server listening on port %s", cfg.ServerPort)
	if err := e.Start(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
