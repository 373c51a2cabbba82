package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"chatpresence/internal/coordinator"
	"chatpresence/internal/message"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	eventTimeout = 1900 * time.Millisecond
	readLimit    = 4096
)

type WsServer struct {
	coord      *coordinator.Coordinator
	upgrader   websocket.Upgrader
	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewWsServer wires the transport to the presence coordinator. pongWait is
// the heartbeat window: a client that answers no ping within it is treated
// exactly like an explicit disconnect.
func NewWsServer(coord *coordinator.Coordinator, pongWait time.Duration) *WsServer {
	return &WsServer{
		coord: coord,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // dev-only
		},
		pongWait:   pongWait,
		pingPeriod: pongWait / 3, // must be < pongWait
	}
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(readLimit)

	// ─────────────────── Client connected ────────────────────────
	conn := newClientConn(rawConn)
	s.coord.Connect(conn)

	// Clients may pre-identify via query string instead of a LOGIN frame.
	if username := ginCtx.Query("username"); username != "" {
		s.coord.HandleEvent(ginCtx.Request.Context(), conn,
			message.Envelope{Type: message.TypeLogin, Sender: username})
	}

	go s.reader(conn)
	go s.pinger(conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) reader(conn *clientConn) {
	defer func() {
		s.coord.Disconnect(conn)
		_ = conn.Close()
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			return // client closed, errored, or missed its heartbeat window
		}

		var env message.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frame: notify this client only, keep reading.
			_ = conn.WriteMessage(message.Encode(message.Error("malformed_message")))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		s.coord.HandleEvent(ctx, conn, env)
		cancel()
	}
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		err := conn.rawConn.WriteControl(websocket.PingMessage, nil,
			time.Now().Add(writeWait))
		if err != nil {
			_ = conn.Close()
			return
		}
	}
}
