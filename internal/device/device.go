package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"marketcall/internal/callback"
	"marketcall/internal/calls"
	"marketcall/internal/callsession"
	"marketcall/internal/cart"
	"marketcall/internal/invoice"
	"marketcall/internal/media"
	"marketcall/internal/signaling"

	"github.com/benbjohnson/clock"
)

// API is the slice of the REST surface a device calls.
type API interface {
	callsession.MediaConfigSource
	invoice.Submitter
	callback.Scheduler
}

type Options struct {
	Self calls.Peer
	Role calls.Role
	// Shop is the seller's shop; ignored for buyers.
	Shop invoice.Shop

	Signaling   signaling.Channel
	Engine      media.Engine
	API         API
	Permissions callsession.Permissions

	Clock          clock.Clock
	RingTimeout    time.Duration
	SignalingGrace time.Duration
	Log            *slog.Logger

	// ShopOf resolves the shop a callee sells for. Defaults to the peer id.
	ShopOf func(calls.Peer) string

	Prompter invoice.ReplacePrompter
	Notifier invoice.Notifier

	OnIncoming      func(calls.Session)
	OnCallbackOffer func(*callback.Offer)
	OnInvoiceForm   func(*invoice.SellerFlow)
	OnCartTick      func(cart.Countdown)
}

// Device wires one user's call controller to the post-call flows: the callback
// offer for buyers, the invoice form for sellers and the buyer's cart.
type Device struct {
	opts Options
	log  *slog.Logger

	Calls *callsession.Controller
	// Cart is nil on seller devices.
	Cart     *cart.Cart
	receiver *invoice.Receiver

	mu      sync.Mutex
	offer   *callback.Offer
	form    *invoice.SellerFlow
	formFor string
	detach  []func()
	started bool
}

func New(opts Options) (*Device, error) {
	if opts.API == nil {
		return nil, errors.New("device: api client is required")
	}
	if opts.Role == calls.RoleSeller && opts.Shop.ID == "" {
		return nil, errors.New("device: seller shop is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.ShopOf == nil {
		opts.ShopOf = func(p calls.Peer) string { return p.ID }
	}

	d := &Device{opts: opts, log: opts.Log.With("component", "device", "user_id", opts.Self.ID)}
	ctrl, err := callsession.New(callsession.Options{
		Self:              opts.Self,
		Role:              opts.Role,
		Engine:            opts.Engine,
		Signaling:         opts.Signaling,
		Media:             opts.API,
		Permissions:       opts.Permissions,
		Clock:             opts.Clock,
		RingTimeout:       opts.RingTimeout,
		SignalingGrace:    opts.SignalingGrace,
		Log:               opts.Log,
		OnIncoming:        opts.OnIncoming,
		OnCallbackOffered: d.openOffer,
	})
	if err != nil {
		return nil, err
	}
	d.Calls = ctrl

	if opts.Role == calls.RoleBuyer {
		d.Cart = cart.New()
		d.receiver = invoice.NewReceiver(d.Cart, opts.Prompter, opts.Notifier, opts.Clock, opts.Log)
	}
	return d, nil
}

// Start attaches the controller and the invoice receiver to signaling.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if err := d.Calls.Attach(); err != nil {
		return err
	}
	d.started = true
	if d.receiver != nil {
		d.detach = append(d.detach, d.receiver.Attach(d.opts.Signaling))
	}
	if d.opts.Role == calls.RoleSeller {
		d.detach = append(d.detach, d.Calls.Subscribe(d.watchForInvoice))
	}
	return nil
}

// Run drives the cart countdown until ctx ends. Sellers have nothing to run.
func (d *Device) Run(ctx context.Context) {
	if d.Cart == nil {
		<-ctx.Done()
		return
	}
	d.Cart.WatchExpiry(ctx, d.opts.Clock, func(cd cart.Countdown) {
		for _, l := range cd.Expired {
			d.log.Info("invoice line expired", "line_id", l.LineID, "invoice_id", l.InvoiceID)
		}
		if d.opts.OnCartTick != nil {
			d.opts.OnCartTick(cd)
		}
	})
}

// Close tears down the controller first, then the flows hanging off it.
func (d *Device) Close() {
	d.Calls.Close()
	d.mu.Lock()
	detach := d.detach
	d.detach = nil
	if d.offer != nil {
		d.offer.Abandon()
	}
	d.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
}

// Offer returns the open callback offer, if any.
func (d *Device) Offer() *callback.Offer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offer
}

// InvoiceForm returns the seller's current post-call form, if any.
func (d *Device) InvoiceForm() *invoice.SellerFlow {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.form
}

func (d *Device) openOffer(s calls.Session) {
	o, err := callback.NewOffer(s, d.opts.ShopOf(s.Peer), d.opts.API, d.opts.Clock, d.opts.Log)
	if err != nil {
		d.log.Warn("callback offer not opened", "call_id", s.CallID, "err", err)
		return
	}
	d.mu.Lock()
	if d.offer != nil {
		d.offer.Abandon()
	}
	d.offer = o
	d.mu.Unlock()
	if d.opts.OnCallbackOffer != nil {
		d.opts.OnCallbackOffer(o)
	}
}

// watchForInvoice opens the invoice form once per call the seller actually took.
func (d *Device) watchForInvoice(s calls.Session) {
	if s.State != calls.StateEnded || s.AcceptedAt == nil {
		return
	}
	d.mu.Lock()
	if d.formFor == s.CallID {
		d.mu.Unlock()
		return
	}
	d.formFor = s.CallID
	f := invoice.NewSellerFlow(s.CallID, d.opts.Shop, d.opts.API, d.Calls, d.opts.Log)
	d.form = f
	d.mu.Unlock()
	if d.opts.OnInvoiceForm != nil {
		d.opts.OnInvoiceForm(f)
	}
}
