package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"marketcall/internal/calls"

	lksdk "github.com/livekit/server-sdk-go"
)

// LiveKitEngine joins call rooms on a LiveKit server.
//
// Capture devices belong to the host platform; this adapter owns the room
// connection, presence callbacks and the mute state of whatever local tracks
// the host has published.
type LiveKitEngine struct {
	// URL overrides MediaConfig.Endpoint when set.
	URL string
	Log *slog.Logger
}

var _ Engine = (*LiveKitEngine)(nil)

func (e *LiveKitEngine) Initialize(ctx context.Context, cfg calls.MediaConfig, l Listener) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.Valid() {
		return nil, ErrInvalidConfig
	}
	url := e.URL
	if url == "" {
		url = cfg.Endpoint
	}
	if url == "" {
		return nil, fmt.Errorf("%w: no media endpoint", ErrInvalidConfig)
	}
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	return &liveKitSession{
		url:      url,
		cfg:      cfg,
		listener: l,
		log:      log.With("component", "livekit", "channel", cfg.ChannelName),
	}, nil
}

type liveKitSession struct {
	url      string
	cfg      calls.MediaConfig
	listener Listener
	log      *slog.Logger

	mu       sync.Mutex
	room     *lksdk.Room
	released bool
	controls calls.Controls
}

func (s *liveKitSession) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(p *lksdk.RemoteParticipant) {
			s.listener.OnRemoteJoined(p.Identity())
		},
		OnParticipantDisconnected: func(p *lksdk.RemoteParticipant) {
			s.listener.OnRemoteLeft(p.Identity())
		},
		OnDisconnected: func() {
			s.mu.Lock()
			released := s.released
			s.mu.Unlock()
			if !released {
				s.listener.OnEngineError(errors.New("media: disconnected from room"))
			}
		},
	}
}

func (s *liveKitSession) Join(ctx context.Context, opts JoinOptions) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.mu.Unlock()

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(s.url, s.cfg.Token, s.callback())
		done <- result{room, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// The connect may still succeed; make sure it does not leak.
		go func() {
			if r := <-done; r.room != nil {
				r.room.Disconnect()
			}
		}()
		return ctx.Err()
	}
	if res.err != nil {
		return fmt.Errorf("media: join %s: %w", s.cfg.ChannelName, res.err)
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		res.room.Disconnect()
		return ErrReleased
	}
	s.room = res.room
	s.controls = opts.Controls()
	s.mu.Unlock()

	s.applyTrackMute(lksdk.TrackKindVideo, !opts.CameraEnabled)
	s.applyTrackMute(lksdk.TrackKindAudio, opts.Muted)

	present := res.room.GetParticipants()
	go func() {
		for _, p := range present {
			s.listener.OnRemoteJoined(p.Identity())
		}
	}()
	s.log.Info("media joined", "role", opts.Role, "kind", opts.Kind, "camera", opts.CameraEnabled)
	return nil
}

func (s *liveKitSession) SetMuted(muted bool) error {
	if err := s.update(func(c *calls.Controls) { c.Muted = muted }); err != nil {
		return err
	}
	s.applyTrackMute(lksdk.TrackKindAudio, muted)
	return nil
}

func (s *liveKitSession) SetCameraEnabled(enabled bool) error {
	if err := s.update(func(c *calls.Controls) { c.CameraEnabled = enabled }); err != nil {
		return err
	}
	s.applyTrackMute(lksdk.TrackKindVideo, !enabled)
	return nil
}

// SetSpeaker and SwitchCamera are device routing concerns; the room only tracks the state.
func (s *liveKitSession) SetSpeaker(on bool) error {
	return s.update(func(c *calls.Controls) { c.SpeakerOn = on })
}

func (s *liveKitSession) SwitchCamera() error {
	return s.update(func(c *calls.Controls) { c.FrontCamera = !c.FrontCamera })
}

func (s *liveKitSession) update(fn func(*calls.Controls)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	if s.room == nil {
		return ErrNotJoined
	}
	fn(&s.controls)
	return nil
}

func (s *liveKitSession) applyTrackMute(kind lksdk.TrackKind, muted bool) {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return
	}
	for _, pub := range room.LocalParticipant.Tracks() {
		local, ok := pub.(*lksdk.LocalTrackPublication)
		if !ok || pub.Kind() != kind {
			continue
		}
		local.SetMuted(muted)
	}
}

func (s *liveKitSession) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.released = true
	room := s.room
	s.room = nil
	s.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
	s.log.Info("media released")
	return nil
}
