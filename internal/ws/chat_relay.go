package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chatpresence/internal/broadcast"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChatRelay shares chat traffic between gateway instances over Redis
// pub/sub. It keeps **exactly one** subscription per "chat:<room>:events"
// channel no matter how many local members the room has, ref-counted on
// membership transitions. Frames are tagged with the instance id so a
// gateway never re-delivers its own publishes.
type ChatRelay struct {
	rdb    *redis.Client
	bc     *broadcast.Broadcaster
	origin string
	mu     sync.Mutex
	subs   map[string]*subEntry // room ➜ subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

type relayFrame struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

func NewChatRelay(rdb *redis.Client, bc *broadcast.Broadcaster) *ChatRelay {
	return &ChatRelay{
		rdb:    rdb,
		bc:     bc,
		origin: uuid.NewString(),
		subs:   make(map[string]*subEntry),
	}
}

func channelFor(room string) string { return "chat:" + room + ":events" }

// Subscribe ensures the process listens on the room's channel; subsequent
// calls for the same room only increment the ref-counter.
func (cr *ChatRelay) Subscribe(room string) {
	cr.mu.Lock()
	if e, ok := cr.subs[room]; ok {
		e.refCnt++
		cr.mu.Unlock()
		return
	}

	// First member → create Redis SUB and fan-out loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := cr.rdb.Subscribe(ctx, channelFor(room))

	cr.subs[room] = &subEntry{refCnt: 1, cancel: cancel}
	cr.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					return
				}

				var frame relayFrame
				if err := json.Unmarshal([]byte(m.Payload), &frame); err != nil {
					zap.L().Warn("chat_relay.bad_frame", zap.Error(err))
					continue
				}
				if frame.Origin == cr.origin {
					continue // our own publish, already delivered locally
				}
				cr.bc.SendToRoom(room, frame.Data)
			}
		}
	}()
}

// Unsubscribe decrements the ref-counter and tears the Redis SUB down when
// the room's last local member leaves.
func (cr *ChatRelay) Unsubscribe(room string) {
	cr.mu.Lock()
	e, ok := cr.subs[room]
	if !ok {
		cr.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		cr.mu.Unlock()
		return
	}
	delete(cr.subs, room)
	cr.mu.Unlock()

	// Outside the lock → stop the fan-out goroutine.
	e.cancel()
}

// PublishChat pushes an already-encoded chat frame to the room's channel for
// the other instances to pick up.
func (cr *ChatRelay) PublishChat(room string, data []byte) {
	raw, err := json.Marshal(relayFrame{Origin: cr.origin, Data: data})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cr.rdb.Publish(ctx, channelFor(room), raw).Err(); err != nil {
		zap.L().Warn("chat_relay.publish", zap.String("room", room), zap.Error(err))
	}
}
