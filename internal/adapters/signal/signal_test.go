package signal_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core/coretest"
)

type message struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	t      *testing.T
	ws     *websocket.Conn
	id     string
	seq    int
	events []message
}

func newServer(t *testing.T) (string, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := &orch.Orchestrator{
		Registry:     app.NewRegistry(),
		Engine:       coretest.NewEngine(),
		Policy:       app.SimplePolicy{},
		ChatCapacity: 200,
	}
	ctl := signal.NewSignalWSController(o, 0, time.Minute, 16)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", o
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	c := &client{t: t, ws: ws}
	hello := c.read()
	require.Equal(t, "connected", hello.Type)
	var who struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(hello.Payload, &who))
	require.NotEmpty(t, who.ID)
	c.id = who.ID
	return c
}

func (c *client) read() message {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	var m message
	require.NoError(c.t, json.Unmarshal(data, &m))
	return m
}

func (c *client) send(typ string, id any, payload any) {
	c.t.Helper()
	env := map[string]any{"type": typ}
	if id != nil {
		env["id"] = id
	}
	if payload != nil {
		env["payload"] = payload
	}
	require.NoError(c.t, c.ws.WriteJSON(env))
}

// request sends typ and returns the payload of its response. Events read on
// the way are kept for event.
func (c *client) request(typ string, payload any, out any) {
	c.t.Helper()
	c.seq++
	c.send(typ, c.seq, payload)
	want := []byte(jsonNumber(c.seq))
	for {
		m := c.read()
		if m.Type == "response" && string(m.ID) == string(want) {
			require.NoError(c.t, json.Unmarshal(m.Payload, out))
			return
		}
		c.events = append(c.events, m)
	}
}

// event returns the first pending or incoming event of type typ.
func (c *client) event(typ string) message {
	c.t.Helper()
	for i, m := range c.events {
		if m.Type == typ {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return m
		}
	}
	for {
		m := c.read()
		if m.Type == typ {
			return m
		}
		c.events = append(c.events, m)
	}
}

func jsonNumber(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

type result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
	Members []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"members"`
}

func TestSignalCreateJoinChat(t *testing.T) {
	url, _ := newServer(t)
	alice := dial(t, url)
	bob := dial(t, url)

	var res result
	alice.request("create-room", map[string]any{"roomId": "r1", "name": "Alice"}, &res)
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, "r1", res.RoomID)
	assert.Equal(t, "Room created", res.Message)

	res = result{}
	bob.request("join-room", map[string]any{"roomId": "r1", "name": "Bob"}, &res)
	require.True(t, res.Success, res.Reason)
	assert.Len(t, res.Members, 2)

	joined := alice.event("user-joined")
	var who struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(joined.Payload, &who))
	assert.Equal(t, bob.id, who.ID)
	assert.Equal(t, "Bob", who.Name)

	var sent struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	bob.request("chat-send-message", map[string]any{"message": "  hi  "}, &sent)
	require.True(t, sent.Success)
	assert.NotEmpty(t, sent.ID)

	chat := alice.event("chat-message")
	var msg struct {
		UserID  string `json:"userId"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(chat.Payload, &msg))
	assert.Equal(t, bob.id, msg.UserID)
	assert.Equal(t, "hi", msg.Message)

	var who2 struct {
		ID     string `json:"id"`
		RoomID string `json:"roomId"`
	}
	bob.request("whoami", nil, &who2)
	assert.Equal(t, bob.id, who2.ID)
	assert.Equal(t, "r1", who2.RoomID)
}

func TestSignalFailures(t *testing.T) {
	url, _ := newServer(t)
	c := dial(t, url)

	var res result
	c.request("join-room", map[string]any{"roomId": "nope"}, &res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "not found")

	res = result{}
	c.request("create-room", map[string]any{"name": "x"}, &res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "invalid argument")

	res = result{}
	c.request("fly-to-the-moon", nil, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "unknown request", res.Reason)

	res = result{}
	c.request("toggle-hand-raise", map[string]any{"handRaised": true}, &res)
	assert.False(t, res.Success)

	var producers []any
	c.request("get-initial-producers", "ghost-room", &producers)
	assert.NotNil(t, producers)
	assert.Empty(t, producers)
}

func TestSignalPing(t *testing.T) {
	url, _ := newServer(t)
	c := dial(t, url)
	c.send("ping", nil, nil)
	assert.Equal(t, "pong", c.read().Type)
}

func TestSignalDisconnectLeavesRoom(t *testing.T) {
	url, o := newServer(t)
	alice := dial(t, url)
	bob := dial(t, url)

	var res result
	alice.request("create-room", map[string]any{"roomId": "r1", "name": "Alice"}, &res)
	require.True(t, res.Success)
	bob.request("join-room", map[string]any{"roomId": "r1", "name": "Bob"}, &res)
	require.True(t, res.Success)

	require.NoError(t, bob.ws.Close())
	left := alice.event("user-left")
	var who struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(left.Payload, &who))
	assert.Equal(t, bob.id, who.ID)

	room, ok := o.Registry.GetRoom("r1")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
}

func TestSignalMediaFlow(t *testing.T) {
	url, _ := newServer(t)
	alice := dial(t, url)
	bob := dial(t, url)

	var res result
	alice.request("create-room", map[string]any{"roomId": "r1", "name": "Alice"}, &res)
	require.True(t, res.Success)

	var caps struct {
		Codecs []any `json:"codecs"`
	}
	alice.request("get-router-rtp-capabilities", "r1", &caps)
	assert.Len(t, caps.Codecs, 2)

	var tp struct {
		ID string `json:"id"`
	}
	alice.request("create-webrtc-transport", map[string]any{"roomId": "r1", "isSender": true}, &tp)
	require.NotEmpty(t, tp.ID)

	var ok struct {
		Success bool `json:"success"`
	}
	alice.request("connect-transport", map[string]any{
		"transportId":    tp.ID,
		"dtlsParameters": map[string]any{"role": "client", "fingerprints": []any{map[string]any{"algorithm": "sha-256", "value": "AA"}}},
	}, &ok)
	require.True(t, ok.Success)

	var produced struct {
		ID string `json:"id"`
	}
	alice.request("produce", map[string]any{
		"transportId":   tp.ID,
		"kind":          "audio",
		"rtpParameters": coretest.OpusParams(1111),
		"appData":       map[string]any{"type": "camera"},
	}, &produced)
	require.NotEmpty(t, produced.ID)

	bob.request("join-room", map[string]any{"roomId": "r1", "name": "Bob"}, &res)
	require.True(t, res.Success)

	var producers []struct {
		ProducerID string `json:"producerId"`
		OwnerID    string `json:"ownerId"`
		Kind       string `json:"kind"`
	}
	bob.request("get-initial-producers", map[string]any{"roomId": "r1"}, &producers)
	require.Len(t, producers, 1)
	assert.Equal(t, produced.ID, producers[0].ProducerID)
	assert.Equal(t, alice.id, producers[0].OwnerID)

	ok.Success = false
	alice.request("close-producer", map[string]any{"producerId": produced.ID}, &ok)
	require.True(t, ok.Success)
	closed := bob.event("producer-closed")
	assert.Contains(t, string(closed.Payload), produced.ID)
}
