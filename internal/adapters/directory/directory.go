// Package directory is the room catalog collaborator: create/get/list
// plus participant-count bookkeeping. Persistent storage of room meta
// belongs to the external catalog service, not to this process.
package directory

import (
	"context"

	"github.com/dkeye/Talk/internal/domain"
)

// Directory is the catalog surface the signaling core consumes.
// Join and Leave are idempotent under retry.
type Directory interface {
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	List(ctx context.Context) ([]*domain.Room, error)
	Join(ctx context.Context, id domain.RoomID, user domain.UserID) error
	Leave(ctx context.Context, id domain.RoomID, user domain.UserID) error
}
