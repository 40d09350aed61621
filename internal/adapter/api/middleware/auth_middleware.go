package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
)

type AuthMiddleware struct {
	token  string
	viewer entity.Viewer
}

// NewAuthMiddleware guards the console with a static bearer token. An empty
// token leaves the console open, which is only sensible on localhost.
func NewAuthMiddleware(token string, viewer entity.Viewer) *AuthMiddleware {
	return &AuthMiddleware{
		token:  token,
		viewer: viewer,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.token != "" {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(m.token)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid console token")
			}
		}

		c.Set("uid", m.viewer.ID)
		return next(c)
	}
}
