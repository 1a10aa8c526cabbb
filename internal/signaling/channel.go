package signaling

import (
	"context"
	"errors"
	"sync"
)

// Channel is a thin publish/subscribe view over the signaling connection.
//
// Delivery is at-least-once with no ordering across event types and no
// store-and-forward for offline recipients. Subscribers must tolerate both.
type Channel interface {
	Emit(ctx context.Context, to, event string, payload any) error
	On(event string, h Handler) (unsubscribe func())
}

// Handler receives one envelope. Handlers must not block for long; they run
// on the channel's delivery goroutine.
type Handler func(Envelope)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// StatusNotifier is implemented by channels that can report transport liveness.
type StatusNotifier interface {
	OnStatus(fn func(Status)) (unsubscribe func())
}

var (
	ErrDisconnected   = errors.New("signaling: not connected")
	ErrUnknownEvent   = errors.New("signaling: unknown event")
	ErrSendBufferFull = errors.New("signaling: send buffer full")
)

// registry holds subscriptions keyed by event name. Shared by every Channel implementation.
type registry struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
	statuses map[uint64]func(Status)
}

func newRegistry() *registry {
	return &registry{
		handlers: make(map[string]map[uint64]Handler),
		statuses: make(map[uint64]func(Status)),
	}
}

func (r *registry) on(event string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	hs, ok := r.handlers[event]
	if !ok {
		hs = make(map[uint64]Handler)
		r.handlers[event] = hs
	}
	hs[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[event], id)
		})
	}
}

func (r *registry) onStatus(fn func(Status)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.statuses[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.statuses, id)
		})
	}
}

func (r *registry) dispatch(env Envelope) int {
	r.mu.Lock()
	hs := make([]Handler, 0, len(r.handlers[env.Event]))
	for _, h := range r.handlers[env.Event] {
		hs = append(hs, h)
	}
	r.mu.Unlock()

	for _, h := range hs {
		h(env)
	}
	return len(hs)
}

func (r *registry) notify(s Status) {
	r.mu.Lock()
	fns := make([]func(Status), 0, len(r.statuses))
	for _, fn := range r.statuses {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
