package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/api/handler"
	apimiddleware "marketchat/internal/adapter/api/middleware"
	"marketchat/internal/adapter/api/router"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/usecase"
	"marketchat/pkg/logger"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live conversation state over a local HTTP API",
		Long: strings.TrimSpace(`
Runs a conversation session in the background and exposes it on a local
JSON API: the sorted list, selection, pins, labels, presence and chat
windows. Set CONSOLE_TOKEN to require a bearer token.
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.ConsolePort = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			conn := a.newConn()
			conversations := a.newConversations(conn, usecase.LogNotifier{})
			if err := conversations.Open(ctx); err != nil {
				logger.Warn("Initial conversation load failed: %v", err)
			}
			defer conversations.Close()

			openWindow := func(chatID string) (handler.ChatWindow, error) {
				window := a.newChatWindow(usecase.LogNotifier{})
				// windows outlive the request that opened them
				if err := window.Open(ctx, chatID); err != nil {
					logger.Warn("History of %s failed to load: %v", chatID, err)
				}
				return window, nil
			}

			handler.Setup(conversations, openWindow, conn, a.viewer.ID)
			defer handler.GetChatHandler().CloseAll()

			limiter := ratelimit.NewRateLimiter()
			limiter.StartCleanupRoutine(ctx)

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.Logger())
			e.Use(middleware.Recover())
			e.Use(middleware.CORS())
			e.Validator = api.NewValidator()

			authMiddleware := apimiddleware.NewAuthMiddleware(cfg.ConsoleToken, a.viewer)
			adminMiddleware := apimiddleware.NewAdminMiddleware(a.viewer)
			router.Setup(e, authMiddleware, adminMiddleware, limiter)

			go func() {
				logger.Info("Starting console on port %s...", cfg.ConsolePort)
				if err := e.Start(":" + cfg.ConsolePort); err != nil && err != http.ErrServerClosed {
					logger.Error("Console server stopped: %v", err)
					stop()
				}
			}()

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Console port (default CONSOLE_PORT or 8090)")

	return cmd
}
