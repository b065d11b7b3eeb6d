package domain

import (
	"strconv"
	"time"
)

const PresenceStatusOnline = "online"

// PresenceEntry es una fila del snapshot de usuarios conectados.
type PresenceEntry struct {
	UserID      string     `json:"user_id"`
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	GoogleID    string     `json:"google_id"`
	ConnectedAt time.Time  `json:"connected_at"`
	Status      string     `json:"status"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

func NewPresenceEntry(userID int64, p Profile, connectedAt time.Time, lastUpdated *time.Time) PresenceEntry {
	return PresenceEntry{
		UserID:      strconv.FormatInt(userID, 10),
		ID:          userID,
		Name:        p.Name,
		AvatarURL:   p.AvatarURL,
		GoogleID:    p.ExternalID,
		ConnectedAt: connectedAt,
		Status:      PresenceStatusOnline,
		LastUpdated: lastUpdated,
	}
}
