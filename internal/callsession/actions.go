package callsession

import (
	"context"
	"errors"
	"fmt"

	"marketcall/internal/calls"
	"marketcall/internal/media"
	"marketcall/internal/signaling"
)

// RequestCall starts an outgoing call to peer.
func (c *Controller) RequestCall(ctx context.Context, peer calls.Peer, kind calls.Kind) (calls.Session, error) {
	if !kind.Valid() {
		return calls.Session{}, fmt.Errorf("callsession: unknown kind %q", kind)
	}
	if peer.ID == "" || peer.ID == c.opts.Self.ID {
		return calls.Session{}, ErrInvalidPeer
	}
	if err := c.opts.Permissions.Check(ctx, kind); err != nil {
		return calls.Session{}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	callID, err := c.opts.NewCallID()
	if err != nil {
		return calls.Session{}, fmt.Errorf("callsession: call id: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return calls.Session{}, ErrClosed
	}
	switch st := c.session.State; {
	case st == calls.StateIdle:
	case st.Terminal():
		c.mu.Unlock()
		return calls.Session{}, ErrInvalidTransition
	default:
		c.mu.Unlock()
		return calls.Session{}, ErrBusy
	}

	c.epoch++
	c.session = calls.Session{
		CallID:      callID,
		Direction:   calls.DirectionOutgoing,
		Peer:        peer,
		Kind:        kind,
		LocalRole:   c.opts.Role,
		RequestedAt: c.now(),
		Controls:    media.DefaultControls(c.opts.Role, kind),
		Revision:    c.session.Revision,
	}
	c.setState(calls.StateRequesting)
	c.armRing()

	fx := c.emitLater(nil, peer.ID, signaling.EventCallRequested, signaling.CallRequested{
		CallID:     callID,
		FromPeerID: c.opts.Self.ID,
		FromName:   c.opts.Self.DisplayName,
		Kind:       kind,
	})
	fx = c.flush(fx)
	snap := c.session
	c.mu.Unlock()

	c.run(fx)
	return snap, nil
}

// AcceptCall answers the ringing incoming call.
//
// The media config is fetched before leaving RingingIncoming so a Connecting
// session always carries one. If the caller hangs up or the ring window ends
// during the fetch, ErrStaleCall is returned and nothing is emitted.
func (c *Controller) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.session.State != calls.StateRingingIncoming || c.accepting {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if c.opts.Media == nil {
		c.mu.Unlock()
		return errors.New("callsession: media config source not configured")
	}
	c.accepting = true
	epoch, callID, kind := c.epoch, c.session.CallID, c.session.Kind
	c.mu.Unlock()

	abort := func(err error) error {
		c.mu.Lock()
		if c.epoch == epoch {
			c.accepting = false
		}
		c.mu.Unlock()
		return err
	}

	if err := c.opts.Permissions.Check(ctx, kind); err != nil {
		return abort(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
	}
	local, remote, err := c.opts.Media.MediaForCall(ctx, callID)
	if err != nil {
		return abort(fmt.Errorf("callsession: media config: %w", err))
	}
	if !local.Valid() || !remote.Valid() {
		return abort(fmt.Errorf("callsession: media config: %w", media.ErrInvalidConfig))
	}

	c.mu.Lock()
	if c.closed || c.epoch != epoch || c.session.State != calls.StateRingingIncoming {
		c.mu.Unlock()
		return ErrStaleCall
	}
	c.accepting = false
	c.disarm(&c.ring)
	c.session.AcceptedAt = c.now()
	c.session.MediaConfig = &local
	c.setState(calls.StateConnecting)

	fx := c.emitLater(nil, c.session.Peer.ID, signaling.EventCallAccepted, signaling.CallAccepted{CallID: callID, MediaConfig: remote})
	fx = c.startMedia(fx)
	fx = c.flush(fx)
	c.mu.Unlock()

	c.run(fx)
	return nil
}

// DeclineCall rejects the ringing incoming call. Declining an already finished call is a no-op.
func (c *Controller) DeclineCall() error {
	c.mu.Lock()
	var fx effects
	switch st := c.session.State; {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case st == calls.StateRingingIncoming:
		peer, callID := c.session.Peer.ID, c.session.CallID
		fx = c.end(fx, calls.EndReasonDeclined)
		fx = c.emitLater(fx, peer, signaling.EventCallDeclined, signaling.CallDeclined{CallID: callID})
	case st.Terminal():
	default:
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
	return nil
}

// EndCall hangs up. Ending an already finished call is a no-op.
func (c *Controller) EndCall() error {
	c.mu.Lock()
	var fx effects
	switch st := c.session.State; {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case st == calls.StateIdle:
		c.mu.Unlock()
		return ErrInvalidTransition
	case st.Terminal():
	default:
		fx = c.hangup(fx)
	}
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
	return nil
}

// ResetState clears a finished session back to Idle.
func (c *Controller) ResetState() error {
	c.mu.Lock()
	var fx effects
	switch st := c.session.State; {
	case st == calls.StateIdle:
	case st.Terminal():
		fx = c.release(fx)
		c.stopTimers()
		c.epoch++
		c.session = calls.Session{State: calls.StateIdle, Revision: c.session.Revision}
		c.touch()
		c.log.Info("call state reset")
	default:
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
	return nil
}

func (c *Controller) SetMuted(muted bool) error {
	return c.control("mute", func(ctl *calls.Controls) { ctl.Muted = muted },
		func(h media.Session) error { return h.SetMuted(muted) })
}

func (c *Controller) SetCameraEnabled(enabled bool) error {
	c.mu.Lock()
	voice := c.session.Kind == calls.KindVoice
	c.mu.Unlock()
	if voice && enabled {
		return ErrInvalidTransition
	}
	return c.control("camera", func(ctl *calls.Controls) { ctl.CameraEnabled = enabled },
		func(h media.Session) error { return h.SetCameraEnabled(enabled) })
}

func (c *Controller) SetSpeaker(on bool) error {
	return c.control("speaker", func(ctl *calls.Controls) { ctl.SpeakerOn = on },
		func(h media.Session) error { return h.SetSpeaker(on) })
}

func (c *Controller) SwitchCamera() error {
	return c.control("switch_camera", func(ctl *calls.Controls) { ctl.FrontCamera = !ctl.FrontCamera },
		func(h media.Session) error { return h.SwitchCamera() })
}

// control updates local controls in Connecting or InCall. Engine errors are logged only;
// before the engine has joined the new value is picked up at join time.
func (c *Controller) control(name string, mutate func(*calls.Controls), apply func(media.Session) error) error {
	c.mu.Lock()
	if !c.session.State.Live() {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	mutate(&c.session.Controls)
	c.touch()
	h := c.handle
	joined := c.session.State == calls.StateInCall
	fx := c.flush(nil)
	c.mu.Unlock()

	if h != nil && joined {
		if err := apply(h); err != nil {
			c.log.Warn("media control failed", "control", name, "err", err)
		}
	}
	c.run(fx)
	return nil
}
