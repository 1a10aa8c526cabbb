package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketcall/internal/callback"
	"marketcall/internal/calls"
	"marketcall/internal/cart"
	"marketcall/internal/device"
	"marketcall/internal/invoice"
)

// console is the line-based operator surface of the headless device.
type console struct {
	out io.Writer
	log *slog.Logger
	dev *device.Device

	mu       sync.Mutex
	pending  chan bool
	slots    []callback.Slot
	lastSeen uint64
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) incoming(s calls.Session) {
	c.printf("incoming %s call from %s (%s); 'accept' or 'decline'", s.Kind, s.Peer.DisplayName, s.Peer.ID)
}

// session prints status changes. Snapshots can arrive out of order, so older revisions are dropped.
func (c *console) session(s calls.Session) {
	c.mu.Lock()
	if s.Revision <= c.lastSeen {
		c.mu.Unlock()
		return
	}
	c.lastSeen = s.Revision
	c.mu.Unlock()
	if s.State == calls.StateInCall && s.DurationSeconds > 0 {
		return
	}
	c.printf("[%s] %s", s.CallID, s.Status())
}

func (c *console) InvoiceArrived(l cart.Line) {
	c.printf("invoice for %s added to cart, %s left to check out", l.ItemName, cart.Remaining(l, time.Now()).Round(time.Second))
}

func (c *console) ConfirmReplace(ctx context.Context, currentShopID string, incoming cart.Line) bool {
	ch := make(chan bool, 1)
	c.mu.Lock()
	c.pending = ch
	c.mu.Unlock()
	c.printf("cart holds items from %s; replace them with %s from %s? (yes/no)", currentShopID, incoming.ItemName, incoming.ShopName)

	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending == ch {
			c.pending = nil
		}
		c.mu.Unlock()
		return false
	}
}

func (c *console) answer(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return false
	}
	switch line {
	case "yes", "y":
		c.pending <- true
	case "no", "n":
		c.pending <- false
	default:
		return false
	}
	c.pending = nil
	return true
}

func (c *console) loop(ctx context.Context, in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || c.answer(line) {
			continue
		}
		if line == "quit" {
			return
		}
		if err := c.exec(ctx, strings.Fields(line)); err != nil {
			c.printf("error: %v", err)
		}
	}
}

func (c *console) exec(ctx context.Context, args []string) error {
	ctrl := c.dev.Calls
	switch args[0] {
	case "call":
		if len(args) < 2 {
			return fmt.Errorf("usage: call <peer-id> [voice|video]")
		}
		kind := calls.KindVideo
		if len(args) > 2 {
			kind = calls.Kind(args[2])
		}
		_, err := ctrl.RequestCall(ctx, calls.Peer{ID: args[1]}, kind)
		return err
	case "accept":
		return ctrl.AcceptCall(ctx)
	case "decline":
		return ctrl.DeclineCall()
	case "end":
		return ctrl.EndCall()
	case "reset":
		return ctrl.ResetState()
	case "mute", "unmute":
		return ctrl.SetMuted(args[0] == "mute")
	case "camera":
		return ctrl.SetCameraEnabled(len(args) > 1 && args[1] == "on")
	case "speaker":
		return ctrl.SetSpeaker(len(args) > 1 && args[1] == "on")
	case "flip":
		return ctrl.SwitchCamera()
	case "status":
		s := ctrl.Session()
		c.printf("%s %s %ds", s.CallID, s.Status(), s.DurationSeconds)
		return nil
	case "slots":
		return c.listSlots()
	case "callback":
		return c.scheduleCallback(ctx, args)
	case "invoice":
		return c.submitInvoice(ctx, args)
	case "retry":
		f := c.dev.InvoiceForm()
		if f == nil {
			return invoice.ErrNoDraft
		}
		_, err := f.Retry(ctx)
		return err
	case "skip":
		if f := c.dev.InvoiceForm(); f != nil {
			return f.Skip()
		}
		return invoice.ErrNoDraft
	case "cart":
		c.printCart()
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (c *console) listSlots() error {
	o := c.dev.Offer()
	if o == nil {
		return callback.ErrNotOffered
	}
	var slots []callback.Slot
	for _, d := range o.Menu() {
		for _, s := range d.Slots {
			if s.Available {
				slots = append(slots, s)
				c.printf("%2d) %s", len(slots), s.Label)
			}
		}
	}
	c.mu.Lock()
	c.slots = slots
	c.mu.Unlock()
	return nil
}

func (c *console) scheduleCallback(ctx context.Context, args []string) error {
	o := c.dev.Offer()
	if o == nil {
		return callback.ErrNotOffered
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: callback <slot-number>")
	}
	n, err := strconv.Atoi(args[1])
	c.mu.Lock()
	slots := c.slots
	c.mu.Unlock()
	if err != nil || n < 1 || n > len(slots) {
		return fmt.Errorf("pick a slot from 'slots'")
	}
	ack, err := o.Schedule(ctx, slots[n-1])
	if err != nil {
		return err
	}
	c.printf("callback %s: %s", ack.Status, slots[n-1].Label)
	return nil
}

func (c *console) submitInvoice(ctx context.Context, args []string) error {
	f := c.dev.InvoiceForm()
	if f == nil {
		return invoice.ErrNoDraft
	}
	if len(args) < 4 {
		return fmt.Errorf("usage: invoice <price> <qty> <item name>")
	}
	price, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	qty, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	it, err := f.Submit(ctx, invoice.Draft{ItemName: strings.Join(args[3:], " "), Price: price, Quantity: qty})
	if err != nil {
		return err
	}
	c.printf("invoice %s sent, expires %s", it.InvoiceID, it.ExpiresAt.Local().Format(time.Kitchen))
	return nil
}

func (c *console) printCart() {
	if c.dev.Cart == nil {
		c.printf("no cart on a seller device")
		return
	}
	now := time.Now()
	for _, l := range c.dev.Cart.Lines() {
		state := "ok"
		if !cart.IsCheckoutable(l, now) {
			state = "expired"
		} else if l.InvoiceExpiresAt != nil {
			state = cart.Remaining(l, now).Round(time.Second).String() + " left"
		}
		c.printf("%s x%d %.2f (%s)", l.ItemName, l.Quantity, l.Price, state)
	}
	c.printf("total %.2f, checkout %v", c.dev.Cart.Total(), c.dev.Cart.CanCheckout(now))
}
