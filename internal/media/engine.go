package media

import (
	"context"
	"errors"

	"marketcall/internal/calls"
)

// Engine is the provider-agnostic contract over a real-time audio/video SDK.
//
// Rules:
//   - No provider SDK calls outside media adapters.
//   - Every Session returned by Initialize must be released exactly once.
//   - Listener callbacks are never invoked synchronously from inside a Session command.
type Engine interface {
	Initialize(ctx context.Context, cfg calls.MediaConfig, l Listener) (Session, error)
}

// Session is one acquired engine context for a single call.
type Session interface {
	// Join enters the media channel. A nil error means the local join completed.
	Join(ctx context.Context, opts JoinOptions) error

	// Local controls are fire-and-forget: callers log errors, never abort the call.
	SetMuted(muted bool) error
	SetCameraEnabled(enabled bool) error
	SetSpeaker(on bool) error
	SwitchCamera() error

	// Release leaves the channel (if joined) and frees the engine context.
	Release() error
}

// JoinOptions carries the local controls the session joins with.
type JoinOptions struct {
	Role          calls.Role
	Kind          calls.Kind
	Muted         bool
	CameraEnabled bool
	SpeakerOn     bool
	FrontCamera   bool
}

// Controls is the control state a session starts in after joining with o.
func (o JoinOptions) Controls() calls.Controls {
	return calls.Controls{Muted: o.Muted, CameraEnabled: o.CameraEnabled, SpeakerOn: o.SpeakerOn, FrontCamera: o.FrontCamera}
}

// Listener receives engine callbacks.
type Listener interface {
	OnRemoteJoined(uid string)
	OnRemoteLeft(uid string)
	OnEngineError(err error)
}

var (
	ErrInvalidConfig = errors.New("media: invalid config")
	ErrNotJoined     = errors.New("media: not joined")
	ErrReleased      = errors.New("media: session released")
)

// DefaultControls is the join-time policy: buyers join with camera off, sellers with camera on,
// voice calls never enable the camera.
func DefaultControls(role calls.Role, kind calls.Kind) calls.Controls {
	return calls.Controls{
		CameraEnabled: kind == calls.KindVideo && role == calls.RoleSeller,
		SpeakerOn:     kind == calls.KindVideo,
		FrontCamera:   true,
	}
}
