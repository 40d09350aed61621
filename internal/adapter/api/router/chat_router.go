package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up the conversation console routes
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, adminMiddleware *middleware.AdminMiddleware, limiter *ratelimit.RateLimiter) {
	chatHandler := handler.GetChatHandler()

	v1 := e.Group("/v1")
	v1.Use(middleware.RateLimit(limiter))
	v1.Use(authMiddleware.Authenticate)

	// Conversation list
	conversations := v1.Group("/conversations")
	conversations.GET("", chatHandler.ListConversations)                  // GET /v1/conversations?filter=unread
	conversations.POST("/refresh", chatHandler.Refresh)                   // POST /v1/conversations/refresh
	conversations.GET("/:id", chatHandler.GetConversation)                // GET /v1/conversations/:id
	conversations.POST("/:id/select", chatHandler.SelectConversation)     // POST /v1/conversations/:id/select
	conversations.DELETE("/:id/select", chatHandler.DeselectConversation) // DELETE /v1/conversations/:id/select
	conversations.PUT("/:id/pin", chatHandler.PinConversation)            // PUT /v1/conversations/:id/pin

	// Labels are a monitor feature
	conversations.PUT("/:id/label", chatHandler.LabelConversation, adminMiddleware.AdminOnly)

	// Chat window
	conversations.GET("/:id/messages", chatHandler.GetMessages)  // GET /v1/conversations/:id/messages
	conversations.POST("/:id/messages", chatHandler.SendMessage) // POST /v1/conversations/:id/messages
	conversations.DELETE("/:id/window", chatHandler.CloseWindow) // DELETE /v1/conversations/:id/window

	v1.GET("/presence/:userId", chatHandler.GetPresence)
}
