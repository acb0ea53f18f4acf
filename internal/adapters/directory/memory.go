package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
)

var ErrRoomFull = errors.New("room is full")

// MemoryDirectory is an in-process catalog for tests and standalone mode.
type MemoryDirectory struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*domain.Room
	members map[domain.RoomID]map[domain.UserID]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		rooms:   make(map[domain.RoomID]*domain.Room),
		members: make(map[domain.RoomID]map[domain.UserID]struct{}),
	}
}

func (d *MemoryDirectory) Create(_ context.Context, room *domain.Room) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[room.ID] = room
	d.members[room.ID] = make(map[domain.UserID]struct{})
	return nil
}

func (d *MemoryDirectory) Get(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *room
	out.ParticipantCount = len(d.members[id])
	return &out, nil
}

func (d *MemoryDirectory) List(_ context.Context) ([]*domain.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*domain.Room, 0, len(d.rooms))
	for id, room := range d.rooms {
		r := *room
		r.ParticipantCount = len(d.members[id])
		out = append(out, &r)
	}
	return out, nil
}

// Join is idempotent: re-joining an already joined room succeeds without
// bumping the count.
func (d *MemoryDirectory) Join(_ context.Context, id domain.RoomID, user domain.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[id]
	if !ok {
		return core.ErrNotFound
	}
	members := d.members[id]
	if _, ok := members[user]; ok {
		return nil
	}
	if room.MaxMembers > 0 && len(members) >= room.MaxMembers {
		return ErrRoomFull
	}
	members[user] = struct{}{}
	return nil
}

func (d *MemoryDirectory) Leave(_ context.Context, id domain.RoomID, user domain.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[id]; !ok {
		return core.ErrNotFound
	}
	delete(d.members[id], user)
	return nil
}
