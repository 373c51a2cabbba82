package coordinator

import (
	"context"
	"sync"

	"chatpresence/internal/message"
	"chatpresence/internal/registry"
)

// event is one inbound envelope paired with the connection it arrived on.
type event struct {
	conn registry.Conn
	env  message.Envelope
}

type handlerFunc func(ctx context.Context, evt *event) error

// router maps message types to handlers, à-la gin.Engine.
type router struct {
	mu       sync.RWMutex
	handlers map[message.Type]handlerFunc
}

func newRouter() *router {
	return &router{handlers: make(map[message.Type]handlerFunc)}
}

func (r *router) register(t message.Type, h handlerFunc) {
	if t == "" {
		panic("coordinator router: empty message type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// dispatch is called by HandleEvent with the session lock held.
func (r *router) dispatch(ctx context.Context, evt *event) error {
	r.mu.RLock()
	h, ok := r.handlers[evt.env.Type]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownType
	}
	return h(ctx, evt)
}
