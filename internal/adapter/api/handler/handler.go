package handler

var (
	chatHandler   *ChatHandler
	healthHandler *HealthHandler
)

func Setup(conversations ConversationService, openWindow WindowOpener, conn ConnectionReporter, viewerID string) {
	chatHandler = NewChatHandler(conversations, openWindow, viewerID)
	healthHandler = NewHealthHandler(conn)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
