package core

import (
	"sync"

	"github.com/dkeye/Talk/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomSnapshot is a read-only view of a room's presence state.
type RoomSnapshot struct {
	Members        []domain.UserID `json:"members"`
	ActiveSpeakers []domain.UserID `json:"active_speakers"`
}

type roomPresence struct {
	members  map[domain.UserID]struct{}
	speakers map[domain.UserID]struct{}
}

// PresenceTable holds per-room membership and the active-speaker set.
// All mutation of a room goes through the table's lock, so two members'
// racing events serialize; rooms are independent and never lock each other.
// Invariant: speakers is always a subset of members.
type PresenceTable struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomPresence
}

func NewPresenceTable() *PresenceTable {
	return &PresenceTable{rooms: make(map[domain.RoomID]*roomPresence)}
}

// Join adds the user, creating the room state on first join.
// Returns false when the user was already a member.
func (t *PresenceTable) Join(room domain.RoomID, user domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rp, ok := t.rooms[room]
	if !ok {
		rp = &roomPresence{
			members:  make(map[domain.UserID]struct{}),
			speakers: make(map[domain.UserID]struct{}),
		}
		t.rooms[room] = rp
	}
	if _, ok := rp.members[user]; ok {
		return false
	}
	rp.members[user] = struct{}{}
	log.Info().Str("module", "core.presence").Str("room", string(room)).Str("user", string(user)).Msg("member joined")
	return true
}

// Leave removes the user from members and speakers in one mutation, so a
// departing speaker can never be observed as a speaking non-member.
// Empty rooms are garbage-collected. Returns false when the user was not
// a member, which teardown paths use to deduplicate leave broadcasts.
func (t *PresenceTable) Leave(room domain.RoomID, user domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rp, ok := t.rooms[room]
	if !ok {
		return false
	}
	if _, ok := rp.members[user]; !ok {
		return false
	}
	delete(rp.members, user)
	delete(rp.speakers, user)
	if len(rp.members) == 0 {
		delete(t.rooms, room)
	}
	log.Info().Str("module", "core.presence").Str("room", string(room)).Str("user", string(user)).Msg("member left")
	return true
}

// IsMember reports current membership.
func (t *PresenceTable) IsMember(room domain.RoomID, user domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rp, ok := t.rooms[room]
	if !ok {
		return false
	}
	_, ok = rp.members[user]
	return ok
}

// SetSpeaking marks the user speaking or silent. Idempotent: setting an
// already-set state returns false so callers can skip redundant
// broadcasts. Non-members are never added to the speaker set.
func (t *PresenceTable) SetSpeaking(room domain.RoomID, user domain.UserID, speaking bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rp, ok := t.rooms[room]
	if !ok {
		return false
	}
	if _, ok := rp.members[user]; !ok {
		return false
	}
	_, cur := rp.speakers[user]
	if cur == speaking {
		return false
	}
	if speaking {
		rp.speakers[user] = struct{}{}
	} else {
		delete(rp.speakers, user)
	}
	return true
}

// Snapshot returns the members and active speakers of the room.
// An unknown room yields an empty snapshot.
func (t *PresenceTable) Snapshot(room domain.RoomID) RoomSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := RoomSnapshot{
		Members:        []domain.UserID{},
		ActiveSpeakers: []domain.UserID{},
	}
	rp, ok := t.rooms[room]
	if !ok {
		return snap
	}
	for u := range rp.members {
		snap.Members = append(snap.Members, u)
	}
	for u := range rp.speakers {
		snap.ActiveSpeakers = append(snap.ActiveSpeakers, u)
	}
	return snap
}

// MemberCount is a metrics helper.
func (t *PresenceTable) MemberCount(room domain.RoomID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rp, ok := t.rooms[room]
	if !ok {
		return 0
	}
	return len(rp.members)
}
