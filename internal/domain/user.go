package domain

import "time"

// User es la identidad persistida de un participante del chat.
type User struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"google_id"`
	Name       string    `json:"name"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Profile es la metadata de usuario que acompaña una sesion conectada.
type Profile struct {
	ID         int64
	Name       string
	AvatarURL  string
	ExternalID string
}

func ProfileFromUser(u User) Profile {
	return Profile{
		ID:         u.ID,
		Name:       u.Name,
		AvatarURL:  u.AvatarURL,
		ExternalID: u.ExternalID,
	}
}
