package callsession

import (
	"time"

	"marketcall/internal/calls"
	"marketcall/internal/signaling"

	"github.com/benbjohnson/clock"
)

// timerSlot is a cancellable one-shot timer. token guards against a fire that
// races with Stop: a callback whose token is no longer current does nothing.
type timerSlot struct {
	timer *clock.Timer
	token uint64
}

// arm and disarm must be called with mu held.
func (c *Controller) arm(slot *timerSlot, d time.Duration, fire func(token uint64)) {
	c.disarm(slot)
	token := slot.token
	slot.timer = c.clock.AfterFunc(d, func() { fire(token) })
}

func (c *Controller) disarm(slot *timerSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
	slot.token++
}

func (c *Controller) stopTimers() {
	c.disarm(&c.ring)
	c.disarm(&c.tick)
	c.disarm(&c.grace)
}

func (c *Controller) armRing() {
	c.arm(&c.ring, c.opts.RingTimeout, c.ringElapsed)
}

func (c *Controller) armTick() {
	c.arm(&c.tick, time.Second, c.tickElapsed)
}

func (c *Controller) ringElapsed(token uint64) {
	c.mu.Lock()
	if token != c.ring.token || c.closed {
		c.mu.Unlock()
		return
	}
	c.ring.timer = nil

	var fx effects
	switch c.session.State {
	case calls.StateRequesting, calls.StateRingingOutgoing, calls.StateRingingIncoming:
		c.log.Info("ring window elapsed", "call_id", c.session.CallID)
		peer, callID := c.session.Peer.ID, c.session.CallID
		fx = c.end(fx, calls.EndReasonNoAnswer)
		fx = c.emitLater(fx, peer, signaling.EventCallEnded, signaling.CallEnded{CallID: callID, Reason: calls.EndReasonNoAnswer})
	}
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
}

// tickElapsed advances the call duration. Time only counts once the peer's media is present.
func (c *Controller) tickElapsed(token uint64) {
	c.mu.Lock()
	if token != c.tick.token || c.session.State != calls.StateInCall {
		c.mu.Unlock()
		return
	}
	if c.session.RemotePresent {
		c.session.DurationSeconds++
		c.touch()
	}
	c.armTick()
	fx := c.flush(nil)
	c.mu.Unlock()
	c.run(fx)
}

func (c *Controller) graceElapsed(token uint64) {
	c.mu.Lock()
	if token != c.grace.token {
		c.mu.Unlock()
		return
	}
	c.grace.timer = nil
	if !c.session.State.Live() {
		c.mu.Unlock()
		return
	}
	c.log.Warn("signaling lost past grace period, ending call", "call_id", c.session.CallID, "grace", c.opts.SignalingGrace)
	fx := c.end(nil, calls.EndReasonSignalingLost)
	fx = c.flush(fx)
	c.mu.Unlock()
	c.run(fx)
}

func (c *Controller) onSignalingStatus(s signaling.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	switch s {
	case signaling.StatusDisconnected:
		if c.session.State.Live() && c.grace.timer == nil {
			c.log.Warn("signaling disconnected during call", "call_id", c.session.CallID)
			c.arm(&c.grace, c.opts.SignalingGrace, c.graceElapsed)
		}
	case signaling.StatusConnected:
		if c.grace.timer != nil {
			c.log.Info("signaling restored", "call_id", c.session.CallID)
			c.disarm(&c.grace)
		}
	}
}
