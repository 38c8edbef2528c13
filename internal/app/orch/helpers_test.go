package orch_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/core/coretest"
	"github.com/dkeye/huddle/internal/domain"
)

var testTime = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// recorder is a SignalConnection that keeps every frame it is handed.
type recorder struct {
	mu       sync.Mutex
	frames   []core.Frame
	canceled atomic.Bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append(core.Frame(nil), f...))
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) events(t *testing.T) []event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, 0, len(r.frames))
	for _, f := range r.frames {
		var ev event
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

func (r *recorder) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, ev := range r.events(t) {
		out = append(out, ev.Type)
	}
	return out
}

// last decodes the payload of the most recent event of type typ into v.
func (r *recorder) last(t *testing.T, typ string, v any) bool {
	t.Helper()
	evs := r.events(t)
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == typ {
			require.NoError(t, json.Unmarshal(evs[i].Payload, v))
			return true
		}
	}
	return false
}

func (r *recorder) count(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, ev := range r.events(t) {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

type harness struct {
	o      *orch.Orchestrator
	reg    *app.Registry
	engine *coretest.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := app.NewRegistry()
	engine := coretest.NewEngine()
	seq := 0
	o := &orch.Orchestrator{
		Registry:     reg,
		Engine:       engine,
		Policy:       app.SimplePolicy{},
		ChatCapacity: domain.DefaultChatSize,
		Now:          func() time.Time { return testTime },
		NewID: func() string {
			seq++
			return fmt.Sprintf("msg-%d", seq)
		},
	}
	return &harness{o: o, reg: reg, engine: engine}
}

func (h *harness) connect(t *testing.T, conn domain.ConnID) *recorder {
	t.Helper()
	rec := &recorder{}
	require.NoError(t, h.reg.BindSignal(conn, rec, func() { rec.canceled.Store(true) }))
	return rec
}

func (h *harness) create(t *testing.T, conn domain.ConnID, room domain.RoomID, name string) orch.RoomState {
	t.Helper()
	st, err := h.o.CreateRoom(context.Background(), conn, room, name)
	require.NoError(t, err)
	return st
}

func (h *harness) join(t *testing.T, conn domain.ConnID, room domain.RoomID, name string) orch.RoomState {
	t.Helper()
	st, err := h.o.JoinRoom(context.Background(), conn, room, name)
	require.NoError(t, err)
	return st
}

func (h *harness) transport(t *testing.T, conn domain.ConnID, room domain.RoomID, dir domain.Direction) domain.TransportID {
	t.Helper()
	params, err := h.o.CreateTransport(context.Background(), conn, room, dir)
	require.NoError(t, err)
	_, err = h.o.ConnectTransport(context.Background(), conn, params.ID, domain.ConnectParams{DTLSParameters: params.DTLSParameters})
	require.NoError(t, err)
	return params.ID
}

func (h *harness) produce(t *testing.T, conn domain.ConnID, tid domain.TransportID) domain.ProducerID {
	t.Helper()
	res, err := h.o.Produce(context.Background(), conn, orch.ProduceRequest{
		TransportID:   tid,
		Kind:          domain.KindAudio,
		Type:          domain.TypeCamera,
		RTPParameters: coretest.OpusParams(1111),
	})
	require.NoError(t, err)
	return res.ID
}

func (h *harness) consume(t *testing.T, conn domain.ConnID, tid domain.TransportID, pid domain.ProducerID) orch.ConsumeResult {
	t.Helper()
	res, err := h.o.Consume(context.Background(), conn, orch.ConsumeRequest{
		ProducerID:   pid,
		TransportID:  tid,
		Capabilities: coretest.DefaultCapabilities,
	})
	require.NoError(t, err)
	return res
}

func members(ms ...domain.Member) []domain.Member { return ms }
