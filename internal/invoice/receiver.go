package invoice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"marketcall/internal/cart"
	"marketcall/internal/signaling"

	"github.com/benbjohnson/clock"
)

// ReplacePrompter asks the buyer whether to empty a cart holding another shop's items.
type ReplacePrompter interface {
	ConfirmReplace(ctx context.Context, currentShopID string, incoming cart.Line) bool
}

// Notifier tells the buyer an invoice landed in the cart, with a path to checkout.
type Notifier interface {
	InvoiceArrived(line cart.Line)
}

// Receiver turns invoice_ready events into cart lines on the buyer's device.
type Receiver struct {
	cart     *cart.Cart
	prompter ReplacePrompter
	notifier Notifier
	clock    clock.Clock
	log      *slog.Logger

	// PromptTimeout bounds how long a replace prompt may block event handling.
	PromptTimeout time.Duration

	mu   sync.Mutex
	seen map[string]bool
}

func NewReceiver(c *cart.Cart, prompter ReplacePrompter, notifier Notifier, clk clock.Clock, log *slog.Logger) *Receiver {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		cart:          c,
		prompter:      prompter,
		notifier:      notifier,
		clock:         clk,
		log:           log.With("component", "invoice_receiver"),
		PromptTimeout: 2 * time.Minute,
		seen:          make(map[string]bool),
	}
}

// Attach subscribes to invoice_ready on ch.
func (r *Receiver) Attach(ch signaling.Channel) (detach func()) {
	return ch.On(signaling.EventInvoiceReady, r.Handle)
}

// Handle processes one invoice_ready envelope. Only server-originated events are trusted.
func (r *Receiver) Handle(env signaling.Envelope) {
	if env.From != "" && env.From != signaling.ServerSender {
		r.log.Warn("invoice_ready from non-server sender dropped", "from", env.From)
		return
	}
	var ev signaling.InvoiceReady
	if err := env.Decode(&ev); err != nil || ev.InvoiceID == "" {
		r.log.Warn("malformed invoice_ready", "err", err)
		return
	}
	if _, err := r.Deliver(context.Background(), ev); err != nil {
		r.log.Info("invoice not added to cart", "invoice_id", ev.InvoiceID, "err", err)
	}
}

var (
	ErrDuplicateInvoice = errors.New("invoice: already delivered")
	ErrExpiredOnArrival = errors.New("invoice: expired before it arrived")
	ErrReplaceDeclined  = errors.New("invoice: buyer kept the current cart")
)

// Deliver inserts ev into the cart under the single-shop rule.
func (r *Receiver) Deliver(ctx context.Context, ev signaling.InvoiceReady) (cart.Line, error) {
	r.mu.Lock()
	if r.seen[ev.InvoiceID] {
		r.mu.Unlock()
		return cart.Line{}, ErrDuplicateInvoice
	}
	r.seen[ev.InvoiceID] = true
	r.mu.Unlock()

	if !r.clock.Now().Before(ev.ExpiresAt) {
		return cart.Line{}, ErrExpiredOnArrival
	}

	line := LineFromEvent(ev)
	added, err := r.cart.Add(line)
	switch {
	case errors.Is(err, cart.ErrDifferentShop):
		if !r.confirm(ctx, line) {
			return cart.Line{}, ErrReplaceDeclined
		}
		added, err = r.cart.Replace(line)
		if err != nil {
			return cart.Line{}, err
		}
		r.log.Info("cart replaced by invoice", "invoice_id", ev.InvoiceID, "shop_id", ev.ShopID)
	case errors.Is(err, cart.ErrDuplicate):
		return cart.Line{}, ErrDuplicateInvoice
	case err != nil:
		r.forget(ev.InvoiceID)
		return cart.Line{}, err
	}

	r.log.Info("invoice added to cart", "invoice_id", ev.InvoiceID, "line_id", added.LineID, "expires_at", ev.ExpiresAt)
	if r.notifier != nil {
		r.notifier.InvoiceArrived(added)
	}
	return added, nil
}

func (r *Receiver) confirm(ctx context.Context, line cart.Line) bool {
	if r.prompter == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, r.PromptTimeout)
	defer cancel()
	return r.prompter.ConfirmReplace(ctx, r.cart.ShopID(), line)
}

func (r *Receiver) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, id)
}
