package callsession

import (
	"fmt"

	"marketcall/internal/calls"
	"marketcall/internal/media"
	"marketcall/internal/signaling"
)

// tracked reports whether an event for callID from sender concerns the tracked session. mu must be held.
func (c *Controller) tracked(callID, from string) bool {
	if c.closed || callID == "" || callID != c.session.CallID {
		return false
	}
	return from == "" || from == signaling.ServerSender || from == c.session.Peer.ID
}

func (c *Controller) ignored(env signaling.Envelope, callID string) {
	c.log.Debug("signaling event ignored", "event", env.Event, "call_id", callID, "from", env.From, "state", c.session.State)
}

func (c *Controller) onCallRequested(env signaling.Envelope) {
	var ev signaling.CallRequested
	if err := env.Decode(&ev); err != nil || ev.CallID == "" || !ev.Kind.Valid() {
		c.log.Warn("malformed call request", "from", env.From, "err", err)
		return
	}
	from := env.From
	if from == "" {
		from = ev.FromPeerID
	}

	c.mu.Lock()
	if c.closed || from == "" || c.session.CallID == ev.CallID {
		c.ignored(env, ev.CallID)
		c.mu.Unlock()
		return
	}
	if st := c.session.State; st != calls.StateIdle && !st.Terminal() {
		// No busy signal exists; the caller's ring window resolves it as no_answer.
		c.log.Info("incoming call while busy ignored", "call_id", ev.CallID, "from", from, "active_call_id", c.session.CallID)
		c.mu.Unlock()
		return
	}

	fx := c.release(nil)
	c.stopTimers()
	c.epoch++
	c.session = calls.Session{
		CallID:      ev.CallID,
		Direction:   calls.DirectionIncoming,
		Peer:        calls.Peer{ID: from, DisplayName: ev.FromName},
		Kind:        ev.Kind,
		LocalRole:   c.opts.Role,
		RequestedAt: c.now(),
		Controls:    media.DefaultControls(c.opts.Role, ev.Kind),
		Revision:    c.session.Revision,
	}
	c.setState(calls.StateRingingIncoming)
	c.armRing()
	if c.opts.OnIncoming != nil {
		c.hooks = append(c.hooks, c.opts.OnIncoming)
	}

	fx = c.emitLater(fx, from, signaling.EventCallRinging, signaling.CallRinging{CallID: ev.CallID})
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
}

func (c *Controller) onCallRinging(env signaling.Envelope) {
	var ev signaling.CallRinging
	if err := env.Decode(&ev); err != nil {
		c.log.Warn("malformed call_ringing", "err", err)
		return
	}
	c.mu.Lock()
	if !c.tracked(ev.CallID, env.From) || c.session.State != calls.StateRequesting {
		c.ignored(env, ev.CallID)
		c.mu.Unlock()
		return
	}
	c.setState(calls.StateRingingOutgoing)
	fx := c.flush(nil)
	c.mu.Unlock()
	c.run(fx)
}

func (c *Controller) onCallAccepted(env signaling.Envelope) {
	var ev signaling.CallAccepted
	if err := env.Decode(&ev); err != nil {
		c.log.Warn("malformed call_accepted", "err", err)
		return
	}
	c.mu.Lock()
	st := c.session.State
	if !c.tracked(ev.CallID, env.From) || (st != calls.StateRequesting && st != calls.StateRingingOutgoing) {
		c.ignored(env, ev.CallID)
		c.mu.Unlock()
		return
	}

	var fx effects
	if !ev.MediaConfig.Valid() {
		fx = c.fail(fx, fmt.Errorf("call accepted: %w", media.ErrInvalidConfig))
	} else {
		cfg := ev.MediaConfig
		c.disarm(&c.ring)
		c.session.AcceptedAt = c.now()
		c.session.MediaConfig = &cfg
		c.setState(calls.StateConnecting)
		fx = c.startMedia(fx)
	}
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
}

func (c *Controller) onCallDeclined(env signaling.Envelope) {
	var ev signaling.CallDeclined
	if err := env.Decode(&ev); err != nil {
		c.log.Warn("malformed call_declined", "err", err)
		return
	}
	c.mu.Lock()
	st := c.session.State
	if !c.tracked(ev.CallID, env.From) || (st != calls.StateRequesting && st != calls.StateRingingOutgoing) {
		c.ignored(env, ev.CallID)
		c.mu.Unlock()
		return
	}
	fx := c.end(nil, calls.EndReasonDeclined)
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
}

func (c *Controller) onCallEnded(env signaling.Envelope) {
	var ev signaling.CallEnded
	if err := env.Decode(&ev); err != nil {
		c.log.Warn("malformed call_ended", "err", err)
		return
	}
	c.mu.Lock()
	st := c.session.State
	if !c.tracked(ev.CallID, env.From) || st == calls.StateIdle || st.Terminal() {
		c.ignored(env, ev.CallID)
		c.mu.Unlock()
		return
	}
	reason := calls.EndReasonHangup
	if ev.Reason == calls.EndReasonNoAnswer && !st.Live() {
		reason = calls.EndReasonNoAnswer
	}
	fx := c.end(nil, reason)
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
}
