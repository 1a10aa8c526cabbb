package callsession

import (
	"context"
	"fmt"

	"marketcall/internal/calls"
	"marketcall/internal/media"
	"marketcall/internal/signaling"
)

// engineListener routes engine callbacks to the session epoch that created them.
type engineListener struct {
	c     *Controller
	epoch uint64
}

func (l *engineListener) OnRemoteJoined(uid string) { l.c.presence(l.epoch, uid, true) }
func (l *engineListener) OnRemoteLeft(uid string)   { l.c.presence(l.epoch, uid, false) }
func (l *engineListener) OnEngineError(err error)   { l.c.mediaFailed(l.epoch, err) }

// startMedia begins engine acquisition for a session that just entered Connecting. mu must be held.
func (c *Controller) startMedia(fx effects) effects {
	cfg := *c.session.MediaConfig
	epoch := c.epoch
	c.stopCall()
	ctx, stop := context.WithCancel(c.ctx)
	c.callCtx, c.callStop = ctx, stop
	c.wg.Add(1)
	return append(fx, func() { go c.connect(ctx, epoch, cfg) })
}

func (c *Controller) connect(ctx context.Context, epoch uint64, cfg calls.MediaConfig) {
	defer c.wg.Done()

	h, err := c.opts.Engine.Initialize(ctx, cfg, &engineListener{c: c, epoch: epoch})
	if err != nil {
		c.mediaFailed(epoch, fmt.Errorf("media initialize: %w", err))
		return
	}

	c.mu.Lock()
	if epoch != c.epoch || c.session.State != calls.StateConnecting {
		c.mu.Unlock()
		c.releaseHandle(h)
		return
	}
	c.handle = h
	ctl := c.session.Controls
	opts := media.JoinOptions{
		Role:          c.session.LocalRole,
		Kind:          c.session.Kind,
		Muted:         ctl.Muted,
		CameraEnabled: ctl.CameraEnabled,
		SpeakerOn:     ctl.SpeakerOn,
		FrontCamera:   ctl.FrontCamera,
	}
	c.mu.Unlock()

	if err := h.Join(ctx, opts); err != nil {
		c.mediaFailed(epoch, fmt.Errorf("media join: %w", err))
		return
	}
	c.joined(epoch, h, opts.Controls())
}

// joined enters InCall and replays any control changed while the join was in flight.
func (c *Controller) joined(epoch uint64, h media.Session, sent calls.Controls) {
	c.mu.Lock()
	if epoch != c.epoch || c.session.State != calls.StateConnecting || c.handle != h {
		c.mu.Unlock()
		return
	}
	c.setState(calls.StateInCall)
	c.armTick()

	fx := c.syncControls(nil, h, sent, c.session.Controls)
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
}

// syncControls queues the engine commands that move h from have to want. mu must be held.
func (c *Controller) syncControls(fx effects, h media.Session, have, want calls.Controls) effects {
	queue := func(name string, apply func() error) {
		fx = append(fx, func() {
			if err := apply(); err != nil {
				c.log.Warn("media control failed", "control", name, "err", err)
			}
		})
	}
	if have.Muted != want.Muted {
		queue("mute", func() error { return h.SetMuted(want.Muted) })
	}
	if have.CameraEnabled != want.CameraEnabled {
		queue("camera", func() error { return h.SetCameraEnabled(want.CameraEnabled) })
	}
	if have.SpeakerOn != want.SpeakerOn {
		queue("speaker", func() error { return h.SetSpeaker(want.SpeakerOn) })
	}
	if have.FrontCamera != want.FrontCamera {
		queue("switch_camera", h.SwitchCamera)
	}
	return fx
}

func (c *Controller) presence(epoch uint64, uid string, present bool) {
	c.mu.Lock()
	if epoch != c.epoch || !c.session.State.Live() || c.session.RemotePresent == present {
		c.mu.Unlock()
		return
	}
	c.session.RemotePresent = present
	c.touch()
	c.log.Info("remote presence", "call_id", c.session.CallID, "uid", uid, "present", present)
	fx := c.flush(nil)
	c.mu.Unlock()
	c.run(fx)
}

func (c *Controller) mediaFailed(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch || !c.session.State.Live() {
		c.mu.Unlock()
		c.log.Debug("stale media error ignored", "err", err)
		return
	}
	fx := c.fail(nil, err)
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
}

// release queues the engine release ahead of every other effect. mu must be held.
func (c *Controller) release(fx effects) effects {
	h := c.handle
	if h == nil {
		return fx
	}
	c.handle = nil
	return append(effects{func() { c.releaseHandle(h) }}, fx...)
}

func (c *Controller) releaseHandle(h media.Session) {
	if err := h.Release(); err != nil {
		c.log.Warn("media release failed", "err", err)
	}
}

func (c *Controller) stopCall() {
	if c.callStop != nil {
		c.callStop()
	}
	c.callCtx, c.callStop = nil, nil
}

// end moves the tracked session to Ended. mu must be held.
func (c *Controller) end(fx effects, reason calls.EndReason) effects {
	fx = c.release(fx)
	c.stopTimers()
	c.stopCall()
	c.accepting = false

	s := &c.session
	s.EndReason = reason
	s.EndedAt = c.now()
	s.MediaConfig = nil
	c.setState(calls.StateEnded)

	if (reason == calls.EndReasonDeclined || reason == calls.EndReasonNoAnswer) &&
		s.Direction == calls.DirectionOutgoing && s.LocalRole == calls.RoleBuyer {
		s.CallbackOffered = true
		if c.opts.OnCallbackOffered != nil {
			c.hooks = append(c.hooks, c.opts.OnCallbackOffered)
		}
	}
	return fx
}

// fail moves the tracked session to Failed and tells the peer the call is over. mu must be held.
func (c *Controller) fail(fx effects, err error) effects {
	fx = c.release(fx)
	c.stopTimers()
	c.stopCall()
	c.accepting = false

	s := &c.session
	s.FailureError = err.Error()
	s.EndedAt = c.now()
	s.MediaConfig = nil
	c.log.Error("call failed", "call_id", s.CallID, "err", err)
	c.setState(calls.StateFailed)

	return c.emitLater(fx, s.Peer.ID, signaling.EventCallEnded, signaling.CallEnded{CallID: s.CallID, Reason: calls.EndReasonHangup})
}

func (c *Controller) hangup(fx effects) effects {
	peer, callID := c.session.Peer.ID, c.session.CallID
	fx = c.end(fx, calls.EndReasonHangup)
	return c.emitLater(fx, peer, signaling.EventCallEnded, signaling.CallEnded{CallID: callID, Reason: calls.EndReasonHangup})
}
