package callsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketcall/internal/calls"
	"marketcall/internal/media"
	"marketcall/internal/signaling"

	"github.com/benbjohnson/clock"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	DefaultRingTimeout    = 30 * time.Second
	DefaultSignalingGrace = 15 * time.Second

	emitTimeout = 5 * time.Second
)

var (
	ErrPermissionDenied  = errors.New("callsession: camera or microphone permission denied")
	ErrInvalidTransition = errors.New("callsession: action not allowed in current state")
	ErrBusy              = errors.New("callsession: another call is active")
	ErrClosed            = errors.New("callsession: controller closed")
	ErrInvalidPeer       = errors.New("callsession: invalid peer")
	ErrStaleCall         = errors.New("callsession: call changed while the action was in flight")
)

// Permissions gates call start on device capture permissions.
type Permissions interface {
	Check(ctx context.Context, kind calls.Kind) error
}

// AllowAll grants every permission. Headless devices have no capture prompts.
type AllowAll struct{}

func (AllowAll) Check(context.Context, calls.Kind) error { return nil }

// MediaConfigSource issues media configs when the callee accepts.
// local is for the accepting device, remote is handed to the caller in call_accepted.
type MediaConfigSource interface {
	MediaForCall(ctx context.Context, callID string) (local, remote calls.MediaConfig, err error)
}

type Options struct {
	Self calls.Peer
	Role calls.Role

	Engine      media.Engine
	Signaling   signaling.Channel
	Media       MediaConfigSource
	Permissions Permissions

	Clock          clock.Clock
	RingTimeout    time.Duration
	SignalingGrace time.Duration
	NewCallID      func() (string, error)
	Log            *slog.Logger

	// OnIncoming is called when a remote call starts ringing locally.
	OnIncoming func(calls.Session)
	// OnCallbackOffered is called when a buyer's outgoing call ends declined or unanswered.
	OnCallbackOffered func(calls.Session)
}

// Controller owns the call state machine of one device.
//
// All transitions run under mu and are evaluated against the current state,
// so duplicate or late signaling events converge instead of double-applying.
// Side effects that leave the controller (signaling emits, engine release,
// notifications) are collected during a transition and run after unlock.
type Controller struct {
	opts  Options
	clock clock.Clock
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	session calls.Session
	// epoch changes whenever the tracked session is replaced; async work carries it to detect staleness.
	epoch     uint64
	accepting bool
	handle    media.Session
	callCtx   context.Context
	callStop  context.CancelFunc
	dirty     bool

	ring, tick, grace timerSlot
	// hooks run after subscribers with the same snapshot, e.g. incoming-call and callback offers.
	hooks []func(calls.Session)

	subs     map[uint64]func(calls.Session)
	nextSub  uint64
	unsubs   []func()
	attached bool
	closed   bool
}

type effects []func()

func New(opts Options) (*Controller, error) {
	if opts.Engine == nil {
		return nil, errors.New("callsession: media engine is required")
	}
	if opts.Signaling == nil {
		return nil, errors.New("callsession: signaling channel is required")
	}
	if opts.Self.ID == "" {
		return nil, errors.New("callsession: self id is required")
	}
	if opts.Role != calls.RoleBuyer && opts.Role != calls.RoleSeller {
		return nil, fmt.Errorf("callsession: unknown role %q", opts.Role)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.SignalingGrace <= 0 {
		opts.SignalingGrace = DefaultSignalingGrace
	}
	if opts.Permissions == nil {
		opts.Permissions = AllowAll{}
	}
	if opts.NewCallID == nil {
		opts.NewCallID = func() (string, error) { return gonanoid.New(16) }
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Log.With("component", "call_controller", "user_id", opts.Self.ID, "role", opts.Role),
		ctx:     ctx,
		cancel:  cancel,
		session: calls.Session{State: calls.StateIdle},
		subs:    make(map[uint64]func(calls.Session)),
	}, nil
}

// Attach registers signaling handlers. Calling it more than once is a no-op.
func (c *Controller) Attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.attached {
		return nil
	}
	c.attached = true

	ch := c.opts.Signaling
	c.unsubs = append(c.unsubs,
		ch.On(signaling.EventCallRequested, c.onCallRequested),
		ch.On(signaling.EventCallRinging, c.onCallRinging),
		ch.On(signaling.EventCallAccepted, c.onCallAccepted),
		ch.On(signaling.EventCallDeclined, c.onCallDeclined),
		ch.On(signaling.EventCallEnded, c.onCallEnded),
	)
	if sn, ok := ch.(signaling.StatusNotifier); ok {
		c.unsubs = append(c.unsubs, sn.OnStatus(c.onSignalingStatus))
	}
	return nil
}

// Close tears the controller down. The media engine is released before
// anything else; an active call is ended as a hangup.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var fx effects
	if st := c.session.State; st != calls.StateIdle && !st.Terminal() {
		fx = c.hangup(fx)
	}
	fx = c.flush(fx)
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	c.run(fx)
	for _, u := range unsubs {
		u()
	}
	c.cancel()
	c.wg.Wait()
}

// Wait blocks until in-flight media work has settled.
func (c *Controller) Wait() { c.wg.Wait() }

// Session returns a snapshot of the tracked session.
func (c *Controller) Session() calls.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe registers fn for a snapshot after every change.
// Snapshots may race across goroutines; compare Revision to drop older ones.
func (c *Controller) Subscribe(fn func(calls.Session)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
		})
	}
}

// setState must be called with mu held.
func (c *Controller) setState(to calls.State) {
	from := c.session.State
	c.session.State = to
	c.touch()
	c.log.Info("call state", "call_id", c.session.CallID, "from", from, "to", to)
}

func (c *Controller) touch() {
	c.session.Revision++
	c.dirty = true
}

// flush queues a subscriber notification if the session changed. mu must be held.
func (c *Controller) flush(fx effects) effects {
	if !c.dirty {
		return fx
	}
	c.dirty = false
	snap := c.session
	subs := make([]func(calls.Session), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	hooks := c.hooks
	c.hooks = nil
	return append(fx, func() {
		for _, fn := range subs {
			fn(snap)
		}
		for _, fn := range hooks {
			fn(snap)
		}
	})
}

func (c *Controller) run(fx effects) {
	for _, f := range fx {
		f()
	}
}

// emitLater queues a signaling emit. Failures are logged: the ring window
// or the peer's own timers resolve a lost event.
func (c *Controller) emitLater(fx effects, to, event string, payload any) effects {
	return append(fx, func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := c.opts.Signaling.Emit(ctx, to, event, payload); err != nil {
			c.log.Warn("signaling emit failed", "event", event, "to", to, "err", err)
		}
	})
}

func (c *Controller) now() *time.Time {
	t := c.clock.Now().UTC()
	return &t
}
