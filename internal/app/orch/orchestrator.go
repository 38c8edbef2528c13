package orch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Orchestrator runs the session lifecycle and media signaling requests.
//
// mu serialises every state transition. It is released around engine calls,
// so a handler re-validates the room and peer after each of them.
type Orchestrator struct {
	Registry     *app.Registry
	Engine       core.MediaEngine
	Policy       app.Policy
	Limiter      *app.RoomRateLimiter
	ChatCapacity int

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string

	mu sync.Mutex
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) allow(conn domain.ConnID) error {
	if !o.Limiter.Allow(conn) {
		return fmt.Errorf("%w: too many room requests", domain.ErrRateLimited)
	}
	return nil
}

// engineErr tags an engine error as EngineFailure unless it already carries a kind.
func engineErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrEngineFailure), errors.Is(err, domain.ErrFatal), domain.IsClientError(err):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}
}

func encode(ev Event) (core.Frame, bool) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Str("module", "orch").Str("event", ev.Type).Err(err).Msg("encode event")
		return nil, false
	}
	return b, true
}

// sendLocked pushes ev to one connection.
func (o *Orchestrator) sendLocked(room domain.RoomID, conn domain.ConnID, ev Event) {
	sig, ok := o.Registry.Signal(conn)
	if !ok {
		return
	}
	frame, ok := encode(ev)
	if !ok {
		return
	}
	o.deliver(room, conn, sig, frame)
}

// broadcastLocked pushes ev to every connection mapped to room except skip.
func (o *Orchestrator) broadcastLocked(room domain.RoomID, ev Event, skip domain.ConnID) {
	frame, ok := encode(ev)
	if !ok {
		return
	}
	sent := 0
	for _, snap := range o.Registry.ConnectionsOf(room) {
		if snap.Conn == skip || snap.Signal == nil {
			continue
		}
		o.deliver(room, snap.Conn, snap.Signal, frame)
		sent++
	}
	log.Debug().Str("module", "orch").Str("room", string(room)).Str("event", ev.Type).Int("sent", sent).Msg("broadcast")
}

func (o *Orchestrator) deliver(room domain.RoomID, conn domain.ConnID, sig core.SignalConnection, frame core.Frame) {
	err := sig.TrySend(frame)
	if err == nil || o.Policy == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		return
	}
	switch o.Policy.OnBackPressure(room, conn) {
	case app.KickMember:
		// The adapter notices the cancellation and runs Disconnect.
		o.Registry.Cancel(conn)
	case app.MarkSlow, app.DropFrame, app.NoAction:
	}
}

// broadcastMembersLocked sends the full ordered member list to the whole room.
func (o *Orchestrator) broadcastMembersLocked(room *core.Room) {
	o.broadcastLocked(room.ID(), Event{Type: EventUserList, Payload: room.Members()}, "")
}

// announceLocked tells the room which producers closed and every consumer
// owner which of its consumers went with them.
func (o *Orchestrator) announceLocked(room domain.RoomID, c core.Closure) {
	for _, pid := range c.Producers {
		o.broadcastLocked(room, Event{Type: EventProducerClosed, Payload: ProducerClosed{ProducerID: pid}}, "")
	}
	for _, cc := range c.Consumers {
		o.sendLocked(room, cc.Owner, Event{Type: EventConsumerClosed, Payload: ConsumerClosed{ConsumerID: cc.ConsumerID, ProducerID: cc.ProducerID}})
	}
}

// activeRoomLocked resolves the room conn is an active member of. A non-empty
// want must match it.
func (o *Orchestrator) activeRoomLocked(conn domain.ConnID, want domain.RoomID) (*core.Room, error) {
	cur, ok := o.Registry.RoomOf(conn)
	if !ok {
		return nil, fmt.Errorf("%w: not in a room", domain.ErrNotFound)
	}
	if want != "" && want != cur {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, want)
	}
	room, ok := o.Registry.GetRoom(cur)
	if !ok {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, cur)
	}
	if st, ok := room.PeerState(conn); !ok || st != core.PeerActive {
		return nil, fmt.Errorf("%w: peer in room %s", domain.ErrNotFound, cur)
	}
	return room, nil
}

// stillActiveLocked re-validates after an engine call that conn is still an
// active member of the very same room instance.
func (o *Orchestrator) stillActiveLocked(conn domain.ConnID, room *core.Room) error {
	cur, err := o.activeRoomLocked(conn, room.ID())
	if err != nil {
		return err
	}
	if cur != room {
		return fmt.Errorf("%w: room %s was recreated", domain.ErrNotFound, room.ID())
	}
	return nil
}
