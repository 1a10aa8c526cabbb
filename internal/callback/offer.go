package callback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"marketcall/internal/calls"

	"github.com/benbjohnson/clock"
)

// Scheduler submits a callback request to the server.
type Scheduler interface {
	ScheduleCallback(ctx context.Context, req Request) (Ack, error)
}

type offerState int

const (
	offerOpen offerState = iota
	offerSubmitting
	offerScheduled
	offerAbandoned
)

// Offer is the one-shot callback flow shown to a buyer after a declined or
// unanswered call. Failed submissions leave it open for another attempt.
type Offer struct {
	shopID string
	origin calls.EndReason
	client Scheduler
	clock  clock.Clock
	log    *slog.Logger

	mu    sync.Mutex
	state offerState
	ack   Ack
}

// NewOffer opens a callback offer for the ended session s.
func NewOffer(s calls.Session, shopID string, client Scheduler, clk clock.Clock, log *slog.Logger) (*Offer, error) {
	if !s.CallbackOffered {
		return nil, ErrNotOffered
	}
	if shopID == "" || client == nil {
		return nil, ErrInvalidRequest
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Offer{
		shopID: shopID,
		origin: s.EndReason,
		client: client,
		clock:  clk,
		log:    log.With("component", "callback_offer", "call_id", s.CallID, "shop_id", shopID),
	}, nil
}

func (o *Offer) ShopID() string { return o.shopID }

func (o *Offer) Menu() []Day { return Menu(o.clock.Now()) }

// Schedule submits slot. After a success every further call returns ErrAlreadyScheduled.
func (o *Offer) Schedule(ctx context.Context, slot Slot) (Ack, error) {
	o.mu.Lock()
	switch o.state {
	case offerScheduled:
		o.mu.Unlock()
		return Ack{}, ErrAlreadyScheduled
	case offerAbandoned:
		o.mu.Unlock()
		return Ack{}, ErrAbandoned
	case offerSubmitting:
		o.mu.Unlock()
		return Ack{}, ErrInFlight
	}
	if !o.clock.Now().Before(slot.End) || !IsWindowStart(slot.Start) {
		o.mu.Unlock()
		return Ack{}, ErrSlotUnavailable
	}
	o.state = offerSubmitting
	o.mu.Unlock()

	ack, err := o.client.ScheduleCallback(ctx, Request{ShopID: o.shopID, ScheduledAt: slot.Start, Origin: o.origin})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == offerAbandoned {
		// The user left while the request was out; a late success is still recorded server-side.
		o.log.Info("callback result after abandon", "err", err)
		return ack, err
	}
	if err != nil {
		o.state = offerOpen
		o.log.Warn("callback scheduling failed", "slot", slot.Start, "err", err)
		return Ack{}, fmt.Errorf("schedule callback: %w", err)
	}
	o.state = offerScheduled
	o.ack = ack
	o.log.Info("callback scheduled", "slot", slot.Start, "callback_id", ack.ID)
	return ack, nil
}

// Abandon closes the offer without scheduling.
func (o *Offer) Abandon() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != offerScheduled {
		o.state = offerAbandoned
	}
}

// Scheduled returns the acknowledgement once Schedule has succeeded.
func (o *Offer) Scheduled() (Ack, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ack, o.state == offerScheduled
}
