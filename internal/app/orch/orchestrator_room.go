package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// CreateRoom acquires a router for roomID and makes conn its first member.
func (o *Orchestrator) CreateRoom(ctx context.Context, conn domain.ConnID, roomID domain.RoomID, name string) (RoomState, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return RoomState{}, err
	}
	if err := o.allow(conn); err != nil {
		return RoomState{}, err
	}

	o.mu.Lock()
	// The reservation keeps a concurrent create for the same id out while
	// the router is being acquired.
	if err := o.Registry.Reserve(roomID); err != nil {
		o.mu.Unlock()
		return RoomState{}, fmt.Errorf("%w: room %s", domain.ErrAlreadyExists, roomID)
	}
	o.mu.Unlock()

	router, err := o.Engine.CreateRouter(ctx)
	if err != nil {
		o.Registry.Release(roomID)
		log.Error().Str("module", "orch").Str("room", string(roomID)).Err(err).Msg("create router")
		return RoomState{}, engineErr(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.Registry.Signal(conn); !ok {
		// The caller went away while the router was created.
		o.Registry.Release(roomID)
		router.Close()
		return RoomState{}, fmt.Errorf("%w: connection %s", domain.ErrNotFound, conn)
	}

	room := core.NewRoom(roomID, router, o.ChatCapacity)
	if err := o.Registry.Commit(room); err != nil {
		o.Registry.Release(roomID)
		router.Close()
		return RoomState{}, err
	}

	if _, ok := o.Registry.RoomOf(conn); ok {
		o.leaveLocked(conn)
	}
	if err := o.admitLocked(room, conn, name); err != nil {
		o.Registry.DestroyRoom(roomID)
		return RoomState{}, err
	}

	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("conn", string(conn)).Msg("room created")
	o.broadcastMembersLocked(room)
	return RoomState{
		Success: true,
		RoomID:  roomID,
		Message: "Room created",
		Members: room.Members(),
		ChatLog: room.ChatLog(),
	}, nil
}

// JoinRoom adds conn to an existing room. Joining the room conn is already in
// is a no-op that returns the current state; joining another room leaves the
// current one first.
func (o *Orchestrator) JoinRoom(_ context.Context, conn domain.ConnID, roomID domain.RoomID, name string) (RoomState, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return RoomState{}, err
	}
	if err := o.allow(conn); err != nil {
		return RoomState{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	room, ok := o.Registry.GetRoom(roomID)
	if !ok {
		return RoomState{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
	}
	if _, ok := o.Registry.Signal(conn); !ok {
		return RoomState{}, fmt.Errorf("%w: connection %s", domain.ErrNotFound, conn)
	}

	if cur, ok := o.Registry.RoomOf(conn); ok {
		if cur == roomID && room.HasPeer(conn) {
			log.Info().Str("module", "orch").Str("room", string(roomID)).Str("conn", string(conn)).Msg("redundant join")
			return RoomState{
				Success: true,
				RoomID:  roomID,
				Message: "Already in room",
				Members: room.Members(),
				ChatLog: room.ChatLog(),
			}, nil
		}
		o.leaveLocked(conn)
	}

	if err := o.admitLocked(room, conn, name); err != nil {
		return RoomState{}, err
	}
	member, _ := room.Member(conn)
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("conn", string(conn)).Str("name", member.Name).Msg("joined room")

	o.broadcastLocked(roomID, Event{Type: EventUserJoined, Payload: UserPresence{ID: conn, Name: member.Name}}, conn)
	o.broadcastMembersLocked(room)
	return RoomState{
		Success: true,
		RoomID:  roomID,
		Message: "Room joined",
		Members: room.Members(),
		ChatLog: room.ChatLog(),
	}, nil
}

// admitLocked walks a new peer through Joining to Active and maps the connection.
func (o *Orchestrator) admitLocked(room *core.Room, conn domain.ConnID, name string) error {
	if err := room.AddPeer(core.NewPeer(conn, name)); err != nil {
		return err
	}
	if err := o.Registry.MapConnection(conn, room.ID()); err != nil {
		room.RemovePeer(conn)
		return err
	}
	room.Activate(conn)
	return nil
}

// LeaveRoom runs the leave sequence for conn; a no-op when it is in no room.
func (o *Orchestrator) LeaveRoom(conn domain.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.leaveLocked(conn)
}

// Disconnect is the leave sequence followed by dropping the connection itself.
func (o *Orchestrator) Disconnect(conn domain.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.leaveLocked(conn)
	o.Registry.Unbind(conn)
	o.Limiter.Forget(conn)
	log.Info().Str("module", "orch").Str("conn", string(conn)).Msg("disconnected")
}

func (o *Orchestrator) leaveLocked(conn domain.ConnID) {
	roomID, ok := o.Registry.RoomOf(conn)
	if !ok {
		return
	}
	o.Registry.UnmapConnection(conn)

	room, ok := o.Registry.GetRoom(roomID)
	if !ok {
		return
	}
	member, closure, removed := room.RemovePeer(conn)
	if !removed {
		return
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("conn", string(conn)).Int("left", room.MemberCount()).Msg("left room")

	o.announceLocked(roomID, closure)
	o.broadcastLocked(roomID, Event{Type: EventUserLeft, Payload: UserPresence{ID: conn, Name: member.Name}}, conn)
	o.broadcastLocked(roomID, Event{Type: EventHandRaise, Payload: HandRaiseUpdate{UserID: conn, Name: member.Name}}, conn)

	if room.MemberCount() == 0 {
		o.Registry.DestroyRoom(roomID)
		return
	}
	o.broadcastMembersLocked(room)
}

// ToggleHandRaise sets conn's raised-hand flag and tells the whole room.
func (o *Orchestrator) ToggleHandRaise(conn domain.ConnID, raised bool) (Ack, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	room, err := o.activeRoomLocked(conn, "")
	if err != nil {
		return Ack{}, err
	}
	member, err := room.SetHandRaised(conn, raised)
	if err != nil {
		return Ack{}, err
	}
	o.broadcastLocked(room.ID(), Event{Type: EventHandRaise, Payload: HandRaiseUpdate{
		UserID:     conn,
		Name:       member.Name,
		HandRaised: raised,
	}}, "")
	o.broadcastMembersLocked(room)
	return Ack{Success: true}, nil
}

// SendChat appends a message to the room's log and broadcasts it.
func (o *Orchestrator) SendChat(conn domain.ConnID, text string) (domain.ChatMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	room, err := o.activeRoomLocked(conn, "")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	member, _ := room.Member(conn)
	msg, err := domain.NewChatMessage(o.newID, conn, member.Name, text, o.now())
	if err != nil {
		return domain.ChatMessage{}, err
	}
	room.AppendChat(msg)
	o.broadcastLocked(room.ID(), Event{Type: EventChatMessage, Payload: msg}, "")
	return msg, nil
}

// WindowVisibility relays a tab visibility change to the rest of the room.
func (o *Orchestrator) WindowVisibility(conn domain.ConnID, hidden bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	room, err := o.activeRoomLocked(conn, "")
	if err != nil {
		return
	}
	member, _ := room.Member(conn)
	o.broadcastLocked(room.ID(), Event{Type: EventVisibility, Payload: VisibilityChange{
		UserID:    conn,
		Name:      member.Name,
		IsHidden:  hidden,
		Timestamp: o.now().UnixMilli(),
	}}, conn)
}
