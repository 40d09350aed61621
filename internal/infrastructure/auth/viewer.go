package auth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

// userData is the cached profile stored next to the auth token.
type userData struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// ResolveViewer works out who the session belongs to. The token claims are
// read without signature verification: the backend verifies the token on
// every call, the client only needs to know its own id and role. The cached
// user data fills in anything the token lacks, and roleOverride wins over both.
func ResolveViewer(token, rawUserData, roleOverride string) (entity.Viewer, error) {
	var viewer entity.Viewer

	if token != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return viewer, errors.Unauthorized("Auth token is not a valid JWT", err)
		}
		viewer.ID = firstClaim(claims, "id", "userId", "user_id", "sub")
		viewer.Email = firstClaim(claims, "email")
		viewer.Name = firstClaim(claims, "name", "username")
		viewer.Role = normalizeRole(firstClaim(claims, "role"))
	}

	if rawUserData != "" {
		var data userData
		if err := json.Unmarshal([]byte(rawUserData), &data); err != nil {
			return viewer, errors.BadRequest("User data is not valid JSON", err)
		}
		if viewer.ID == "" {
			viewer.ID = data.ID
			if viewer.ID == "" {
				viewer.ID = data.UserID
			}
		}
		if viewer.Name == "" {
			viewer.Name = data.Name
		}
		if viewer.Email == "" {
			viewer.Email = data.Email
		}
		if viewer.Role == "" {
			viewer.Role = normalizeRole(data.Role)
		}
	}

	if roleOverride != "" {
		viewer.Role = normalizeRole(roleOverride)
	}
	if viewer.Role == "" {
		viewer.Role = entity.RoleUser
	}

	if viewer.ID == "" {
		return viewer, errors.Unauthorized("Could not determine the signed-in user", nil)
	}
	return viewer, nil
}

func firstClaim(claims jwt.MapClaims, names ...string) string {
	for _, name := range names {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func normalizeRole(raw string) entity.Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "admin", "monitor", "super_admin", "superadmin":
		return entity.RoleAdmin
	default:
		return entity.RoleUser
	}
}
