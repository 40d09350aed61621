package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/realtime"
)

// ConnectionReporter exposes the realtime connection state.
type ConnectionReporter interface {
	State() realtime.State
}

type HealthHandler struct {
	conn ConnectionReporter
}

func NewHealthHandler(conn ConnectionReporter) *HealthHandler {
	return &HealthHandler{
		conn: conn,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "Console is running",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *HealthHandler) CheckRealtimeHealth(c echo.Context) error {
	if h.conn == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "Realtime connection not configured",
		})
	}

	state := h.conn.State()
	if state != realtime.StateConnected {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "Realtime connection " + state.String(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "Realtime connection " + state.String(),
	})
}
