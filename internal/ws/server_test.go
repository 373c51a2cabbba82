package ws_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatpresence/internal/broadcast"
	"chatpresence/internal/coordinator"
	"chatpresence/internal/message"
	"chatpresence/internal/presence"
	"chatpresence/internal/registry"
	"chatpresence/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 3 * time.Second

type testStack struct {
	srv *httptest.Server
	idx *presence.Index
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New()
	idx := presence.NewIndex()
	bc := broadcast.New(reg, idx)
	coord := coordinator.New(reg, idx, bc, nil, nil)
	wsSrv := ws.NewWsServer(coord, 60*time.Second)

	engine := gin.New()
	engine.GET("/ws", wsSrv.Handle)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &testStack{srv: srv, idx: idx}
}

func (s *testStack) dial(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?username=" + username
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn,
	match func(message.Envelope) bool) message.Envelope {
	t.Helper()

	deadline := time.Now().Add(readTimeout)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "no matching frame before timeout")

		var env message.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if match(env) {
			return env
		}
	}
	t.Fatal("no matching frame before timeout")
	return message.Envelope{}
}

func ofType(typ message.Type) func(message.Envelope) bool {
	return func(env message.Envelope) bool { return env.Type == typ }
}

func dataStrings(env message.Envelope) []string {
	list, _ := env.Data.([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestConnectIdentifyJoinChat(t *testing.T) {
	stack := newTestStack(t)

	alice := stack.dial(t, "alice")
	online := readUntil(t, alice, ofType(message.TypeOnlineUsers))
	assert.Contains(t, dataStrings(online), "alice")

	require.NoError(t, alice.WriteJSON(message.Envelope{
		Type: message.TypeJoin, Room: "general",
	}))
	snap := readUntil(t, alice, ofType(message.TypeRoomPresence))
	assert.Equal(t, "general", snap.Room)
	assert.Equal(t, []string{"alice"}, dataStrings(snap))

	bob := stack.dial(t, "bob")
	require.NoError(t, bob.WriteJSON(message.Envelope{
		Type: message.TypeJoin, Room: "general",
	}))

	joined := readUntil(t, alice, func(env message.Envelope) bool {
		return env.Type == message.TypeSystem && env.Data == "bob joined the room"
	})
	assert.Equal(t, "general", joined.Room)

	require.NoError(t, bob.WriteJSON(message.Envelope{
		Type:    message.TypeChat,
		Payload: json.RawMessage(`{"text":"hi alice"}`),
	}))
	chat := readUntil(t, alice, ofType(message.TypeChat))
	assert.Equal(t, "bob", chat.Sender)
	assert.Equal(t, "general", chat.Room)
	assert.JSONEq(t, `{"text":"hi alice"}`, string(chat.Payload))
}

func TestTransportCloseRunsDisconnectPath(t *testing.T) {
	stack := newTestStack(t)

	alice := stack.dial(t, "alice")
	require.NoError(t, alice.WriteJSON(message.Envelope{
		Type: message.TypeJoin, Room: "general",
	}))
	readUntil(t, alice, ofType(message.TypeRoomPresence))

	bob := stack.dial(t, "bob")
	require.NoError(t, bob.WriteJSON(message.Envelope{
		Type: message.TypeJoin, Room: "general",
	}))
	readUntil(t, alice, func(env message.Envelope) bool {
		return env.Type == message.TypeSystem && env.Data == "bob joined the room"
	})

	// bob vanishes without a LEAVE frame
	require.NoError(t, bob.Close())

	readUntil(t, alice, func(env message.Envelope) bool {
		return env.Type == message.TypeSystem && env.Data == "bob disconnected"
	})
	require.Eventually(t, func() bool {
		users := stack.idx.UsersIn("general")
		return len(users) == 1 && users[0] == "alice"
	}, readTimeout, 10*time.Millisecond)
	assert.NotContains(t, stack.idx.OnlineUsers(), "bob")
}

func TestMalformedFrameGetsErrorNotice(t *testing.T) {
	stack := newTestStack(t)

	alice := stack.dial(t, "alice")
	readUntil(t, alice, ofType(message.TypeOnlineUsers))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errEnv := readUntil(t, alice, ofType(message.TypeError))
	assert.NotNil(t, errEnv.Data)

	// the connection survives the bad frame
	require.NoError(t, alice.WriteJSON(message.Envelope{
		Type: message.TypeJoin, Room: "general",
	}))
	readUntil(t, alice, ofType(message.TypeRoomPresence))
}

func TestQueryFramesAnswerUnicast(t *testing.T) {
	stack := newTestStack(t)

	alice := stack.dial(t, "alice")
	require.NoError(t, alice.WriteJSON(message.Envelope{
		Type: message.TypeJoin, Room: "general",
	}))
	readUntil(t, alice, ofType(message.TypeRoomPresence))

	require.NoError(t, alice.WriteJSON(message.Envelope{
		Type: message.TypeRoomPresence, Room: "general",
	}))
	snap := readUntil(t, alice, func(env message.Envelope) bool {
		return env.Type == message.TypeRoomPresence && len(dataStrings(env)) > 0
	})
	assert.Contains(t, dataStrings(snap), "alice")

	require.NoError(t, alice.WriteJSON(message.Envelope{Type: message.TypeOnlineUsers}))
	online := readUntil(t, alice, ofType(message.TypeOnlineUsers))
	assert.Equal(t, []string{"alice"}, dataStrings(online))
}
