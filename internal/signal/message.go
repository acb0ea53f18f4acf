// Package signal defines the wire protocol spoken over a room's
// signaling connection: a flat JSON object tagged by "type".
package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
)

const (
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeUserDisconnected  = "user_disconnected"
	TypeOffer             = "webrtc_offer"
	TypeAnswer            = "webrtc_answer"
	TypeICECandidate      = "ice_candidate"
	TypeVoiceStatusUpdate = "voice_status_update"
)

// Message is the tagged union carried on the wire. Fields not used by a
// given type stay zero and are omitted when encoding. Offer, Answer and
// Candidate are opaque signaling blobs relayed verbatim between peers.
type Message struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"room_id,omitempty"`

	// user_joined
	User *domain.User `json:"user,omitempty"`

	// user_left / user_disconnected / voice_status_update
	UserID domain.UserID `json:"user_id,omitempty"`

	// point-to-point signaling
	FromUser  domain.UserID   `json:"from_user,omitempty"`
	ToUser    domain.UserID   `json:"to_user,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// voice_status_update
	IsSpeaking bool `json:"is_speaking,omitempty"`
	IsMuted    bool `json:"is_muted,omitempty"`

	// attached to rebroadcast voice updates so clients can replace
	// their whole speaker list instead of patching it
	ActiveSpeakers []domain.UserID `json:"active_speakers,omitempty"`
}

// Decode parses a frame and checks the fields the type requires.
// Unknown types pass through so the router can log and drop them.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", core.ErrInvalidMessage, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", core.ErrInvalidMessage)
	}
	switch m.Type {
	case TypeOffer:
		if m.ToUser == "" || len(m.Offer) == 0 {
			return Message{}, fmt.Errorf("%w: offer needs to_user and offer", core.ErrInvalidMessage)
		}
	case TypeAnswer:
		if m.ToUser == "" || len(m.Answer) == 0 {
			return Message{}, fmt.Errorf("%w: answer needs to_user and answer", core.ErrInvalidMessage)
		}
	case TypeICECandidate:
		if m.ToUser == "" || len(m.Candidate) == 0 {
			return Message{}, fmt.Errorf("%w: candidate needs to_user and candidate", core.ErrInvalidMessage)
		}
	}
	return m, nil
}

// Encode marshals the message into a transport frame.
func (m Message) Encode() (core.Frame, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
