package calls

import (
	"errors"
	"time"
)

// Session is one call attempt as seen by one device.
//
// Both parties keep their own Session for the same CallID and converge only
// through signaling events, so a Session is never shared across devices.
// Values handed out by the controller are snapshots; mutate nothing.
type Session struct {
	CallID    string    `json:"call_id"`
	Direction Direction `json:"direction"`
	Peer      Peer      `json:"peer"`
	Kind      Kind      `json:"kind"`
	LocalRole Role      `json:"local_role"`

	// MediaConfig is set only while State is Connecting or InCall.
	MediaConfig *MediaConfig `json:"media_config,omitempty"`

	State        State     `json:"state"`
	EndReason    EndReason `json:"end_reason,omitempty"`
	FailureError string    `json:"failure_error,omitempty"`

	RequestedAt *time.Time `json:"requested_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	RemotePresent   bool     `json:"remote_present"`
	DurationSeconds int      `json:"duration_seconds"`
	Controls        Controls `json:"controls"`

	// CallbackOffered is set when the outcome routes the buyer to callback scheduling.
	CallbackOffered bool `json:"callback_offered"`

	// Revision increases on every mutation of the tracked session.
	Revision uint64 `json:"revision"`
}

type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// MediaConfig is everything the media engine needs to enter the call's channel.
type MediaConfig struct {
	ChannelName string `json:"channelName"`
	Token       string `json:"token"`
	LocalUID    string `json:"localUid"`
	AppID       string `json:"appId"`
	Endpoint    string `json:"endpoint,omitempty"`
}

func (m MediaConfig) Valid() bool {
	return m.ChannelName != "" && m.Token != "" && m.LocalUID != ""
}

type Controls struct {
	Muted         bool `json:"muted"`
	CameraEnabled bool `json:"camera_enabled"`
	SpeakerOn     bool `json:"speaker_on"`
	FrontCamera   bool `json:"front_camera"`
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindVoice Kind = "voice"
)

func (k Kind) Valid() bool { return k == KindVideo || k == KindVoice }

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

type State string

const (
	StateIdle            State = "idle"
	StateRequesting      State = "requesting"
	StateRingingOutgoing State = "ringing_outgoing"
	StateRingingIncoming State = "ringing_incoming"
	StateConnecting      State = "connecting"
	StateInCall          State = "in_call"
	StateEnded           State = "ended"
	StateFailed          State = "failed"
)

// Terminal reports whether the state absorbs every further event.
func (s State) Terminal() bool { return s == StateEnded || s == StateFailed }

func (s State) Ringing() bool { return s == StateRingingOutgoing || s == StateRingingIncoming }

// Live reports whether the media engine may be engaged.
func (s State) Live() bool { return s == StateConnecting || s == StateInCall }

type EndReason string

const (
	EndReasonDeclined      EndReason = "declined"
	EndReasonNoAnswer      EndReason = "no_answer"
	EndReasonHangup        EndReason = "hangup"
	EndReasonSignalingLost EndReason = "signaling_lost"
)

func (r EndReason) Valid() bool {
	switch r {
	case EndReasonDeclined, EndReasonNoAnswer, EndReasonHangup, EndReasonSignalingLost:
		return true
	default:
		return false
	}
}

// Status is the UI-facing label for the session.
func (s Session) Status() string {
	switch s.State {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "calling"
	case StateRingingOutgoing:
		return "ringing"
	case StateRingingIncoming:
		return "incoming"
	case StateConnecting:
		return "connecting"
	case StateInCall:
		if !s.RemotePresent {
			return "waiting for other party"
		}
		return "in call"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return string(s.State)
	}
}

var ErrInconsistentSession = errors.New("calls: inconsistent session")

// Validate checks the structural invariants between State, MediaConfig and AcceptedAt.
func (s Session) Validate() error {
	if s.State == StateIdle {
		if s.CallID != "" || s.MediaConfig != nil {
			return ErrInconsistentSession
		}
		return nil
	}
	if s.CallID == "" {
		return ErrInconsistentSession
	}
	if (s.MediaConfig != nil) != s.State.Live() {
		return ErrInconsistentSession
	}
	if s.State.Live() && s.AcceptedAt == nil {
		return ErrInconsistentSession
	}
	switch s.State {
	case StateRequesting, StateRingingOutgoing, StateRingingIncoming:
		if s.AcceptedAt != nil {
			return ErrInconsistentSession
		}
	case StateEnded:
		if !s.EndReason.Valid() || s.EndedAt == nil {
			return ErrInconsistentSession
		}
	}
	return nil
}
