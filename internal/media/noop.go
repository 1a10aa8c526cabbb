package media

import (
	"context"
	"sync"

	"marketcall/internal/calls"
)

// NoopEngine stands in for a real engine in tests and headless runs.
// It records every command and lets callers inject failures and presence events.
type NoopEngine struct {
	mu sync.Mutex

	InitErr error
	JoinErr error
	// JoinGate, when set, makes Join wait until it is closed (or ctx ends).
	JoinGate chan struct{}
	// RemoteOnJoin, when set, is reported as joined right after a successful Join.
	RemoteOnJoin string

	sessions []*NoopSession
}

var _ Engine = (*NoopEngine)(nil)

func NewNoopEngine() *NoopEngine { return &NoopEngine{} }

func (e *NoopEngine) Initialize(ctx context.Context, cfg calls.MediaConfig, l Listener) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.Valid() {
		return nil, ErrInvalidConfig
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.InitErr != nil {
		return nil, e.InitErr
	}
	s := &NoopSession{engine: e, cfg: cfg, listener: l}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *NoopEngine) Sessions() []*NoopSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*NoopSession, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// Last returns the most recently initialized session, or nil.
func (e *NoopEngine) Last() *NoopSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

// Releases sums Release calls across sessions.
func (e *NoopEngine) Releases() int {
	n := 0
	for _, s := range e.Sessions() {
		n += s.Releases()
	}
	return n
}

type NoopSession struct {
	engine   *NoopEngine
	cfg      calls.MediaConfig
	listener Listener

	mu       sync.Mutex
	joined   bool
	released int
	opts     JoinOptions
	controls calls.Controls
	switches int
}

var _ Session = (*NoopSession)(nil)

func (s *NoopSession) Join(ctx context.Context, opts JoinOptions) error {
	s.engine.mu.Lock()
	gate, joinErr, remote := s.engine.JoinGate, s.engine.JoinErr, s.engine.RemoteOnJoin
	s.engine.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if joinErr != nil {
		return joinErr
	}

	s.mu.Lock()
	if s.released > 0 {
		s.mu.Unlock()
		return ErrReleased
	}
	s.joined = true
	s.opts = opts
	s.controls = opts.Controls()
	s.mu.Unlock()

	if remote != "" {
		go s.listener.OnRemoteJoined(remote)
	}
	return nil
}

func (s *NoopSession) SetMuted(muted bool) error {
	return s.apply(func(c *calls.Controls) { c.Muted = muted })
}

func (s *NoopSession) SetCameraEnabled(enabled bool) error {
	return s.apply(func(c *calls.Controls) { c.CameraEnabled = enabled })
}

func (s *NoopSession) SetSpeaker(on bool) error {
	return s.apply(func(c *calls.Controls) { c.SpeakerOn = on })
}

func (s *NoopSession) SwitchCamera() error {
	return s.apply(func(c *calls.Controls) {
		c.FrontCamera = !c.FrontCamera
		s.switches++
	})
}

func (s *NoopSession) apply(fn func(*calls.Controls)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released > 0 {
		return ErrReleased
	}
	if !s.joined {
		return ErrNotJoined
	}
	fn(&s.controls)
	return nil
}

func (s *NoopSession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	if s.released > 1 {
		return ErrReleased
	}
	s.joined = false
	return nil
}

func (s *NoopSession) Config() calls.MediaConfig { return s.cfg }

func (s *NoopSession) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

func (s *NoopSession) JoinOptions() JoinOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

func (s *NoopSession) Controls() calls.Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls
}

func (s *NoopSession) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// RemoteJoined simulates the peer's stream appearing.
func (s *NoopSession) RemoteJoined(uid string) { s.listener.OnRemoteJoined(uid) }

// RemoteLeft simulates the peer's stream going away.
func (s *NoopSession) RemoteLeft(uid string) { s.listener.OnRemoteLeft(uid) }

// Fail simulates an asynchronous engine error.
func (s *NoopSession) Fail(err error) { s.listener.OnEngineError(err) }
