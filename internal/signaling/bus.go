package signaling

import (
	"context"
	"fmt"
	"sync"
)

// Bus is an in-process relay connecting any number of endpoints.
//
// Each endpoint gets its own delivery goroutine, so delivery is asynchronous
// and ordered per recipient. Envelopes addressed to a missing or disconnected
// endpoint are dropped, matching the live relay.
type Bus struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	pending   sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[string]*Endpoint)}
}

// Endpoint returns the endpoint for id, creating it connected on first use.
func (b *Bus) Endpoint(id string) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep, ok := b.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{bus: b, id: id, reg: newRegistry(), connected: true}
	b.endpoints[id] = ep
	return ep
}

// Flush blocks until every envelope queued so far, and every envelope emitted
// by handlers while draining, has been delivered.
func (b *Bus) Flush() { b.pending.Wait() }

// Inject delivers env to its To endpoint as if it came from env.From.
// Useful to replay duplicates or reorder events.
func (b *Bus) Inject(env Envelope) bool {
	b.mu.Lock()
	ep := b.endpoints[env.To]
	b.mu.Unlock()
	if ep == nil || !ep.Connected() {
		return false
	}
	ep.enqueue(env)
	return true
}

type Endpoint struct {
	bus *Bus
	id  string
	reg *registry

	mu        sync.Mutex
	connected bool
	queue     []Envelope
	draining  bool
}

var (
	_ Channel        = (*Endpoint)(nil)
	_ StatusNotifier = (*Endpoint)(nil)
)

func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) Emit(ctx context.Context, to, event string, payload any) error {
	if !KnownEvent(event) {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.Connected() {
		return ErrDisconnected
	}
	env, err := NewEnvelope(event, e.id, to, payload)
	if err != nil {
		return err
	}
	e.bus.Inject(env)
	return nil
}

func (e *Endpoint) On(event string, h Handler) func() { return e.reg.on(event, h) }

func (e *Endpoint) OnStatus(fn func(Status)) func() { return e.reg.onStatus(fn) }

func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// SetConnected simulates the transport dropping or coming back.
func (e *Endpoint) SetConnected(v bool) {
	e.mu.Lock()
	changed := e.connected != v
	e.connected = v
	e.mu.Unlock()
	if !changed {
		return
	}
	if v {
		e.reg.notify(StatusConnected)
	} else {
		e.reg.notify(StatusDisconnected)
	}
}

func (e *Endpoint) enqueue(env Envelope) {
	e.bus.pending.Add(1)
	e.mu.Lock()
	e.queue = append(e.queue, env)
	start := !e.draining
	e.draining = true
	e.mu.Unlock()
	if start {
		go e.drain()
	}
}

func (e *Endpoint) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		env := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.reg.dispatch(env)
		e.bus.pending.Done()
	}
}
