package entity

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Viewer is the signed-in user whose perspective a session reconciles.
type Viewer struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

func (v Viewer) IsMonitor() bool {
	return v.Role == RoleAdmin
}

// OwnMessageType is the type the backend stamps on messages this viewer sends.
func (v Viewer) OwnMessageType() MessageType {
	if v.IsMonitor() {
		return MessageTypeAdmin
	}
	return MessageTypeText
}

// Presence is fed exclusively by user:status-changed events.
type Presence struct {
	UserID      string     `json:"user_id"`
	IsOnline    bool       `json:"is_online"`
	LastOffline *time.Time `json:"last_offline,omitempty"`
}
