package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	RoomID domain.RoomID
	Signal core.SignalConnection
	Cancel context.CancelFunc
	// Client is the browser's session-cookie token; tabs of one browser share it.
	Client string
}

// roomSlot is either a reservation (room == nil) or a live room.
type roomSlot struct {
	room *core.Room
}

// Registry holds the live rooms and the connection -> room session map.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]*roomSlot
	sessions map[domain.ConnID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[domain.RoomID]*roomSlot),
		sessions: make(map[domain.ConnID]*sessionEntry),
	}
}

// Reserve claims id before a routing context is acquired for it.
func (r *Registry) Reserve(id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; ok {
		return fmt.Errorf("%w: room %s", domain.ErrAlreadyExists, id)
	}
	r.rooms[id] = &roomSlot{}
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("reserved room id")
	return nil
}

// Commit turns a reservation into a live room.
func (r *Registry) Commit(room *core.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.rooms[room.ID()]
	if !ok || slot.room != nil {
		return fmt.Errorf("%w: no reservation for room %s", domain.ErrNotFound, room.ID())
	}
	slot.room = room
	log.Info().Str("module", "app.registry").Str("room", string(room.ID())).Msg("room registered")
	return nil
}

// Release drops a reservation that never became a room.
func (r *Registry) Release(id domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.rooms[id]; ok && slot.room == nil {
		delete(r.rooms, id)
		log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("released reservation")
	}
}

// CreateRoom registers a room around an already acquired router.
func (r *Registry) CreateRoom(id domain.RoomID, router core.Router, chatCapacity int) (*core.Room, error) {
	if err := r.Reserve(id); err != nil {
		return nil, err
	}
	room := core.NewRoom(id, router, chatCapacity)
	if err := r.Commit(room); err != nil {
		r.Release(id)
		return nil, err
	}
	return room, nil
}

// GetRoom returns a live room; reservations are invisible.
func (r *Registry) GetRoom(id domain.RoomID) (*core.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.rooms[id]
	if !ok || slot.room == nil {
		return nil, false
	}
	return slot.room, true
}

// DestroyRoom releases the room's routing context, then removes the entry.
func (r *Registry) DestroyRoom(id domain.RoomID) bool {
	r.mu.Lock()
	slot, ok := r.rooms[id]
	if !ok || slot.room == nil {
		r.mu.Unlock()
		return false
	}
	delete(r.rooms, id)
	r.mu.Unlock()

	slot.room.Close()
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room destroyed")
	return true
}

// List summarises live rooms sorted by id.
func (r *Registry) List() []domain.RoomSummary {
	r.mu.RLock()
	out := make([]domain.RoomSummary, 0, len(r.rooms))
	for id, slot := range r.rooms {
		if slot.room == nil {
			continue
		}
		out = append(out, domain.RoomSummary{ID: id, MemberCount: slot.room.MemberCount()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll destroys every live room. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := make([]*core.Room, 0, len(r.rooms))
	for id, slot := range r.rooms {
		if slot.room != nil {
			rooms = append(rooms, slot.room)
		}
		delete(r.rooms, id)
	}
	for _, e := range r.sessions {
		e.RoomID = ""
	}
	r.mu.Unlock()
	for _, room := range rooms {
		room.Close()
	}
	log.Info().Str("module", "app.registry").Int("rooms", len(rooms)).Msg("closed all rooms")
}

// BindSignal registers a freshly opened connection.
func (r *Registry) BindSignal(conn domain.ConnID, sig core.SignalConnection, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[conn]; ok {
		return fmt.Errorf("%w: connection %s", domain.ErrAlreadyExists, conn)
	}
	r.sessions[conn] = &sessionEntry{Signal: sig, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("bound signal")
	return nil
}

// SetClient records which browser opened conn. Unknown connections are ignored.
func (r *Registry) SetClient(conn domain.ConnID, client string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[conn]; ok {
		e.Client = client
	}
}

// ConnectionsOfClient lists the bound connections opened by one browser, sorted.
func (r *Registry) ConnectionsOfClient(client string) []domain.ConnID {
	if client == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ConnID
	for conn, e := range r.sessions {
		if e.Client == client && e.Signal != nil {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Signal(conn domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[conn]; ok {
		return e.Signal, true
	}
	return nil, false
}

func (r *Registry) Unbind(conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, conn)
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("unbind session")
}

// MapConnection records conn as a member of room. A previous mapping must be
// cleared with UnmapConnection first.
func (r *Registry) MapConnection(conn domain.ConnID, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[conn]
	if !ok {
		e = &sessionEntry{}
		r.sessions[conn] = e
	}
	if e.RoomID != "" {
		return fmt.Errorf("%w: connection %s is mapped to room %s", domain.ErrAlreadyExists, conn, e.RoomID)
	}
	e.RoomID = room
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Str("room", string(room)).Msg("mapped connection")
	return nil
}

func (r *Registry) UnmapConnection(conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[conn]; ok && e.RoomID != "" {
		log.Info().Str("module", "app.registry").Str("conn", string(conn)).Str("room", string(e.RoomID)).Msg("unmapped connection")
		e.RoomID = ""
	}
}

func (r *Registry) RoomOf(conn domain.ConnID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[conn]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

type ConnSnapshot struct {
	Conn   domain.ConnID
	Signal core.SignalConnection
}

// ConnectionsOf lists the connections currently mapped to room.
func (r *Registry) ConnectionsOf(room domain.RoomID) []ConnSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnapshot, 0, 8)
	for conn, e := range r.sessions {
		if e.RoomID == room {
			out = append(out, ConnSnapshot{Conn: conn, Signal: e.Signal})
		}
	}
	return out
}

// Cancel stops a connection's pumps; the adapter then runs the disconnect path.
func (r *Registry) Cancel(conn domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[conn]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("canceled session")
	return true
}
