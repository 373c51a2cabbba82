package broadcast

import (
	"chatpresence/internal/presence"
	"chatpresence/internal/registry"

	"go.uber.org/zap"
)

// Broadcaster resolves an audience (a room, everyone online, or a single
// connection) into live connections and delivers a pre-encoded frame to each.
// Audiences are snapshotted before any I/O and every write happens outside
// the registry and index locks, so a stalled connection cannot block the
// rest of its room.
type Broadcaster struct {
	reg    *registry.Registry
	idx    *presence.Index
	onDead func(registry.Conn)
}

func New(reg *registry.Registry, idx *presence.Index) *Broadcaster {
	return &Broadcaster{reg: reg, idx: idx}
}

// SetDeadConnHandler installs the cleanup hook invoked (on a fresh
// goroutine) for every connection whose write fails. The coordinator routes
// it into the normal disconnect path.
func (b *Broadcaster) SetDeadConnHandler(fn func(registry.Conn)) {
	b.onDead = fn
}

// SendToRoom delivers data to every live connection of every member of room
// and returns the number of connections reached. Zero is a valid result.
func (b *Broadcaster) SendToRoom(room string, data []byte) int {
	return b.deliver(b.audience(b.idx.UsersIn(room)), data)
}

// SendToAll delivers data to every online identity's connections.
func (b *Broadcaster) SendToAll(data []byte) int {
	return b.deliver(b.audience(b.idx.OnlineUsers()), data)
}

// SendToConnection is a direct unicast. It returns false when the connection
// is no longer live or the write fails; transport races are expected, not
// errors.
func (b *Broadcaster) SendToConnection(c registry.Conn, data []byte) bool {
	if _, ok := b.reg.SessionOf(c); !ok {
		return false
	}
	if err := c.WriteMessage(data); err != nil {
		b.reportDead(c, err)
		return false
	}
	return true
}

// audience resolves identities to a deduplicated connection snapshot.
func (b *Broadcaster) audience(identities []string) []registry.Conn {
	seen := make(map[string]struct{})
	conns := make([]registry.Conn, 0, len(identities))
	for _, identity := range identities {
		for _, c := range b.reg.LiveConnectionsFor(identity) {
			if _, dup := seen[c.ID()]; dup {
				continue
			}
			seen[c.ID()] = struct{}{}
			conns = append(conns, c)
		}
	}
	return conns
}

func (b *Broadcaster) deliver(conns []registry.Conn, data []byte) int {
	delivered := 0
	for _, c := range conns {
		if err := c.WriteMessage(data); err != nil {
			b.reportDead(c, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (b *Broadcaster) reportDead(c registry.Conn, err error) {
	zap.L().Warn("broadcast.write_failed",
		zap.String("conn_id", c.ID()), zap.Error(err))
	if b.onDead != nil {
		go b.onDead(c)
	}
}
