package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
)

type AdminMiddleware struct {
	viewer entity.Viewer
}

func NewAdminMiddleware(viewer entity.Viewer) *AdminMiddleware {
	return &AdminMiddleware{
		viewer: viewer,
	}
}

// AdminOnly rejects requests when the console runs for a non-monitor viewer.
func (m *AdminMiddleware) AdminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.viewer.IsMonitor() {
			return echo.NewHTTPError(http.StatusForbidden, "Admin privileges required")
		}
		return next(c)
	}
}
