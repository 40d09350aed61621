package middleware

import (
	"math"
	"net/http"

	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/logger"
)

// ActionConsole is the bucket used for console requests, keyed by client IP.
const ActionConsole = "console"

// RateLimit returns Echo middleware that throttles each client IP.
func RateLimit(rl *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			if allowed, wait := rl.Allow(ip, ActionConsole); !allowed {
				logger.Warn("RATE LIMIT: Blocked request from IP %s (retry in %v)", ip, wait)

				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "Rate limit exceeded",
					"retry_after": int(math.Ceil(wait.Seconds())),
				})
			}

			return next(c)
		}
	}
}
