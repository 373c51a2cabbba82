package coordinator

import (
	"context"
	"errors"
	"time"

	"chatpresence/internal/broadcast"
	"chatpresence/internal/message"
	"chatpresence/internal/presence"
	"chatpresence/internal/registry"
	"chatpresence/internal/services/history"

	"go.uber.org/zap"
)

var (
	ErrUnknownType   = errors.New("unknown_message_type")
	ErrMissingRoom   = errors.New("missing_room")
	ErrMissingSender = errors.New("missing_sender")
	ErrNotIdentified = errors.New("not_identified")
)

// RoomRelay receives membership transitions and outbound chat frames so a
// multi-instance deployment can share chat traffic. A nil relay disables
// cross-instance fan-out.
type RoomRelay interface {
	Subscribe(room string)
	Unsubscribe(room string)
	PublishChat(room string, data []byte)
}

// Coordinator is the presence state machine. It turns inbound events into
// membership mutations plus broadcasts, holding the per-connection session
// lock across each event so one connection's stream is applied in order and
// a disconnect is terminal: events racing a disconnect either complete
// before it or are dropped.
type Coordinator struct {
	reg     *registry.Registry
	idx     *presence.Index
	bc      *broadcast.Broadcaster
	history history.IHistoryService
	relay   RoomRelay
	router  *router
}

func New(reg *registry.Registry, idx *presence.Index, bc *broadcast.Broadcaster,
	historySvc history.IHistoryService, relay RoomRelay) *Coordinator {

	c := &Coordinator{
		reg:     reg,
		idx:     idx,
		bc:      bc,
		history: historySvc,
		relay:   relay,
		router:  newRouter(),
	}
	c.registerHandlers()
	bc.SetDeadConnHandler(func(conn registry.Conn) {
		_ = conn.Close()
		c.Disconnect(conn)
	})
	return c
}

func (c *Coordinator) registerHandlers() {
	c.router.register(message.TypeLogin, c.handleLogin)
	c.router.register(message.TypeJoin, c.handleJoin)
	c.router.register(message.TypeLeave, c.handleLeave)
	c.router.register(message.TypePing, c.handlePing)
	c.router.register(message.TypeChat, c.handleChat)
	c.router.register(message.TypeRoomPresence, c.handleRoomPresenceQuery)
	c.router.register(message.TypeOnlineUsers, c.handleOnlineUsersQuery)
}

// Connect registers a fresh transport connection. A duplicate handle is
// logged and the connection is treated as already live.
func (c *Coordinator) Connect(conn registry.Conn) {
	if _, err := c.reg.Register(conn); err != nil {
		zap.L().Warn("coordinator.duplicate_connection",
			zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}

// HandleEvent applies one inbound envelope. A malformed event is dropped and
// an ERROR notice is echoed to the originating connection only; it never
// affects other sessions.
func (c *Coordinator) HandleEvent(ctx context.Context, conn registry.Conn, env message.Envelope) {
	sess, ok := c.reg.SessionOf(conn)
	if !ok {
		return // connection already gone
	}
	if env.Timestamp == 0 {
		env.Timestamp = message.Now()
	}

	sess.Lock()
	defer sess.Unlock()
	if sess.Closed() {
		return
	}

	if err := c.router.dispatch(ctx, &event{conn: conn, env: env}); err != nil {
		c.bc.SendToConnection(conn, message.Encode(message.Error(err.Error())))
	}
}

// Disconnect tears the connection down. It is idempotent and always wins
// over concurrent events for the same connection: once the session is marked
// closed, later events are dropped.
func (c *Coordinator) Disconnect(conn registry.Conn) {
	sess, ok := c.reg.SessionOf(conn)
	if !ok {
		return
	}
	sess.Lock()
	defer sess.Unlock()
	if sess.Closed() {
		return
	}

	identity, had := c.reg.Unbind(conn)
	if !had {
		return // never identified, nothing to announce
	}
	if len(c.reg.LiveConnectionsFor(identity)) > 0 {
		// Another tab keeps the identity online.
		c.broadcastOnline()
		return
	}

	c.idx.MarkOffline(identity)
	if room, inRoom := c.idx.Leave(identity); inRoom {
		c.announceRoom(room, identity+" disconnected")
		if c.relay != nil {
			c.relay.Unsubscribe(room)
		}
	}
	c.broadcastOnline()
}

// ---------------------------------------------------------------------------
//  Event handlers (session lock held)
// ---------------------------------------------------------------------------

func (c *Coordinator) handleLogin(_ context.Context, evt *event) error {
	if evt.env.Sender == "" {
		return ErrMissingSender
	}
	c.identify(evt.conn, evt.env.Sender)
	return nil
}

func (c *Coordinator) handleJoin(_ context.Context, evt *event) error {
	if evt.env.Room == "" {
		return ErrMissingRoom
	}
	identity, err := c.resolveIdentity(evt)
	if err != nil {
		return err
	}

	prev, hadPrev := c.idx.Join(identity, evt.env.Room)
	if hadPrev && prev == evt.env.Room {
		return nil // same-room rejoin, nothing changed
	}
	if hadPrev {
		c.announceRoom(prev, identity+" left the room")
		if c.relay != nil {
			c.relay.Unsubscribe(prev)
		}
	}
	c.announceRoom(evt.env.Room, identity+" joined the room")
	if c.relay != nil {
		c.relay.Subscribe(evt.env.Room)
	}
	c.broadcastOnline()
	return nil
}

func (c *Coordinator) handleLeave(_ context.Context, evt *event) error {
	if evt.env.Room == "" {
		return ErrMissingRoom
	}
	identity, err := c.resolveIdentity(evt)
	if err != nil {
		return err
	}

	// The index, not the envelope, is authoritative for which room the
	// identity actually occupies.
	room, ok := c.idx.Leave(identity)
	if !ok {
		return nil // not in any room, valid no-op
	}
	c.announceRoom(room, identity+" left the room")
	if c.relay != nil {
		c.relay.Unsubscribe(room)
	}
	c.broadcastOnline()
	return nil
}

func (c *Coordinator) handlePing(_ context.Context, evt *event) error {
	identity, err := c.resolveIdentity(evt)
	if err != nil {
		return nil // anonymous heartbeat, ignore
	}
	if c.idx.MarkOnline(identity) {
		c.broadcastOnline()
	}
	return nil
}

func (c *Coordinator) handleChat(_ context.Context, evt *event) error {
	identity, err := c.resolveIdentity(evt)
	if err != nil {
		return err
	}
	room, ok := c.idx.RoomOf(identity)
	if !ok {
		return nil // chatting outside any room goes nowhere
	}

	out := evt.env
	out.Sender = identity
	out.Room = room
	raw := message.Encode(out)

	c.bc.SendToRoom(room, raw)
	if c.relay != nil {
		c.relay.PublishChat(room, raw)
	}
	if c.history != nil {
		c.history.Record(room, identity, string(out.Payload),
			time.UnixMilli(out.Timestamp))
	}
	return nil
}

func (c *Coordinator) handleRoomPresenceQuery(_ context.Context, evt *event) error {
	if evt.env.Room == "" {
		return ErrMissingRoom
	}
	snapshot := message.RoomPresence(evt.env.Room, c.idx.UsersIn(evt.env.Room))
	c.bc.SendToConnection(evt.conn, message.Encode(snapshot))
	return nil
}

func (c *Coordinator) handleOnlineUsersQuery(_ context.Context, evt *event) error {
	snapshot := message.OnlineUsers(c.idx.OnlineUsers())
	c.bc.SendToConnection(evt.conn, message.Encode(snapshot))
	return nil
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

// resolveIdentity returns the identity an event acts for. A sender field on
// the envelope re-announces the identity (binding it if the connection was
// anonymous or carried a different name); otherwise the bound identity is
// used.
func (c *Coordinator) resolveIdentity(evt *event) (string, error) {
	bound, ok := c.reg.IdentityOf(evt.conn)
	if sender := evt.env.Sender; sender != "" && (!ok || bound != sender) {
		c.identify(evt.conn, sender)
		return sender, nil
	}
	if !ok {
		return "", ErrNotIdentified
	}
	return bound, nil
}

func (c *Coordinator) identify(conn registry.Conn, identity string) {
	prev, had := c.reg.IdentityOf(conn)
	if had && prev == identity {
		c.idx.MarkOnline(identity)
		c.broadcastOnline()
		return
	}

	c.reg.Bind(conn, identity)
	if had && len(c.reg.LiveConnectionsFor(prev)) == 0 {
		// Re-login under a new name released the old identity's last
		// connection.
		c.idx.MarkOffline(prev)
		if room, inRoom := c.idx.Leave(prev); inRoom {
			c.announceRoom(room, prev+" disconnected")
			if c.relay != nil {
				c.relay.Unsubscribe(room)
			}
		}
	}
	c.idx.MarkOnline(identity)
	c.broadcastOnline()
}

// announceRoom sends a SYSTEM notice followed by a freshly recomputed
// presence snapshot to the room. Snapshots are full replacements, so a
// client that misses one self-heals on the next.
func (c *Coordinator) announceRoom(room, text string) {
	c.bc.SendToRoom(room, message.Encode(message.System(room, text)))
	c.bc.SendToRoom(room, message.Encode(message.RoomPresence(room, c.idx.UsersIn(room))))
}

func (c *Coordinator) broadcastOnline() {
	c.bc.SendToAll(message.Encode(message.OnlineUsers(c.idx.OnlineUsers())))
}
