package domain

import "github.com/google/uuid"

type (
	RoomID   string
	RoomName string
)

const DefaultMaxMembers = 8

// Room is catalog meta for a voice room. Membership and speakers live in
// the presence table, not here; the catalog only tracks a participant count.
type Room struct {
	ID               RoomID   `json:"id"`
	Name             RoomName `json:"name,omitempty"`
	Language         string   `json:"language"`
	Level            string   `json:"level"`
	MaxMembers       int      `json:"max_users"`
	IsPrivate        bool     `json:"is_private"`
	CreatedBy        UserID   `json:"created_by"`
	ParticipantCount int      `json:"participant_count"`
}

func NewRoom(language, level string, createdBy UserID) *Room {
	return &Room{
		ID:         RoomID(uuid.NewString()),
		Language:   language,
		Level:      level,
		MaxMembers: DefaultMaxMembers,
		CreatedBy:  createdBy,
	}
}

func (r *Room) IsFull() bool {
	return r.MaxMembers > 0 && r.ParticipantCount >= r.MaxMembers
}
