package message

import (
	"encoding/json"
	"time"
)

// Type enumerates the message types understood by the presence engine.
type Type string

const (
	TypeJoin         Type = "JOIN"
	TypeLeave        Type = "LEAVE"
	TypeLogin        Type = "LOGIN"
	TypePing         Type = "PING"
	TypeChat         Type = "CHAT"
	TypeSystem       Type = "SYSTEM"
	TypeRoomPresence Type = "ROOM_PRESENCE"
	TypeOnlineUsers  Type = "ONLINE_USERS"
	TypeError        Type = "ERROR"
)

// SystemSender marks server-originated envelopes.
const SystemSender = "SYSTEM"

// Envelope wraps every frame exchanged with a client. Inbound frames carry
// `payload` verbatim; outbound list results (presence, online users) go in
// `data`.
type Envelope struct {
	Type      Type            `json:"type"`
	Sender    string          `json:"sender,omitempty"`
	Room      string          `json:"room,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Data      any             `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Now is the timestamp applied to envelopes that arrive without one.
func Now() int64 { return time.Now().UnixMilli() }

func System(room, text string) Envelope {
	return Envelope{
		Type:      TypeSystem,
		Sender:    SystemSender,
		Room:      room,
		Data:      text,
		Timestamp: Now(),
	}
}

func RoomPresence(room string, users []string) Envelope {
	return Envelope{
		Type:      TypeRoomPresence,
		Sender:    SystemSender,
		Room:      room,
		Data:      users,
		Timestamp: Now(),
	}
}

func OnlineUsers(users []string) Envelope {
	return Envelope{
		Type:      TypeOnlineUsers,
		Sender:    SystemSender,
		Data:      users,
		Timestamp: Now(),
	}
}

func Error(text string) Envelope {
	return Envelope{
		Type:      TypeError,
		Sender:    SystemSender,
		Data:      map[string]string{"error": text},
		Timestamp: Now(),
	}
}

// Encode marshals an envelope for the wire. Marshalling an envelope built
// from plain strings and slices cannot fail, so errors are swallowed here to
// keep broadcast call sites terse.
func Encode(env Envelope) []byte {
	raw, _ := json.Marshal(env)
	return raw
}
