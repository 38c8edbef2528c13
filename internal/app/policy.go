package app

import (
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, conn domain.ConnID) BackpressureAction
}

// SimplePolicy kicks every slow member; a client that cannot keep up with
// presence updates would otherwise drift from the room state.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room domain.RoomID, conn domain.ConnID) BackpressureAction {
	log.Warn().Str("module", "app.policy").Str("room", string(room)).Str("conn", string(conn)).Msg("send queue full")
	return KickMember
}
