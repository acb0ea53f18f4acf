package app

import "github.com/dkeye/Talk/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what to do with a member whose outbound queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, user domain.UserID) BackpressureAction
}

// SimplePolicy kicks slow consumers so one stalled client cannot pin a
// room's broadcast fan-out.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room domain.RoomID, user domain.UserID) BackpressureAction {
	return KickMember
}
