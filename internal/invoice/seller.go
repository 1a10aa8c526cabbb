package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Submitter sends a draft to the API.
type Submitter interface {
	SubmitInvoice(ctx context.Context, callID string, d Draft) (Receipt, error)
}

// Resetter returns the seller's call screen to idle.
type Resetter interface {
	ResetState() error
}

type FlowState string

const (
	FlowEditing    FlowState = "editing"
	FlowSubmitting FlowState = "submitting"
	FlowFailed     FlowState = "failed"
	FlowSent       FlowState = "sent"
	FlowSkipped    FlowState = "skipped"
)

var (
	ErrFlowClosed = errors.New("invoice: flow already finished")
	ErrNoDraft    = errors.New("invoice: nothing to retry")
)

// Shop identifies the selling shop on the seller's device.
type Shop struct {
	ID   string
	Name string
}

// SellerFlow is the post-call invoice form. A failed submit keeps the draft so
// it can be retried verbatim, or the seller can skip sending anything.
type SellerFlow struct {
	callID string
	shop   Shop
	client Submitter
	reset  Resetter
	log    *slog.Logger

	mu    sync.Mutex
	state FlowState
	draft Draft
	item  Item
	err   error
}

func NewSellerFlow(callID string, shop Shop, client Submitter, reset Resetter, log *slog.Logger) *SellerFlow {
	if log == nil {
		log = slog.Default()
	}
	return &SellerFlow{
		callID: callID,
		shop:   shop,
		client: client,
		reset:  reset,
		log:    log.With("component", "invoice_flow", "call_id", callID),
		state:  FlowEditing,
	}
}

// Submit validates d locally and sends it.
func (f *SellerFlow) Submit(ctx context.Context, d Draft) (Item, error) {
	d.CallID = f.callID
	d, err := d.Normalize()
	if err != nil {
		return Item{}, err
	}
	if _, err := d.Image(); err != nil {
		return Item{}, err
	}

	f.mu.Lock()
	if f.state != FlowEditing && f.state != FlowFailed {
		f.mu.Unlock()
		return Item{}, ErrFlowClosed
	}
	f.state = FlowSubmitting
	f.draft = d
	f.mu.Unlock()

	return f.send(ctx, d)
}

// Retry resends the last failed draft.
func (f *SellerFlow) Retry(ctx context.Context) (Item, error) {
	f.mu.Lock()
	switch f.state {
	case FlowFailed:
	case FlowSent, FlowSkipped:
		f.mu.Unlock()
		return Item{}, ErrFlowClosed
	default:
		f.mu.Unlock()
		return Item{}, ErrNoDraft
	}
	f.state = FlowSubmitting
	d := f.draft
	f.mu.Unlock()

	return f.send(ctx, d)
}

// Skip finishes the flow without an invoice.
func (f *SellerFlow) Skip() error {
	f.mu.Lock()
	if f.state == FlowSent || f.state == FlowSubmitting {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	f.state = FlowSkipped
	f.mu.Unlock()
	f.log.Info("invoice skipped")
	f.resetCall()
	return nil
}

func (f *SellerFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastError is the error of the most recent failed submission.
func (f *SellerFlow) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *SellerFlow) send(ctx context.Context, d Draft) (Item, error) {
	rcpt, err := f.client.SubmitInvoice(ctx, f.callID, d)

	f.mu.Lock()
	if err != nil {
		f.state = FlowFailed
		f.err = err
		f.mu.Unlock()
		f.log.Warn("invoice submit failed", "err", err)
		return Item{}, fmt.Errorf("submit invoice: %w", err)
	}
	f.state = FlowSent
	f.err = nil
	f.item = Item{
		InvoiceID: rcpt.InvoiceID,
		CallID:    f.callID,
		ShopID:    f.shop.ID,
		ShopName:  f.shop.Name,
		ItemName:  d.ItemName,
		Price:     d.Price,
		Quantity:  d.Quantity,
		CreatedAt: rcpt.ExpiresAt.Add(-TTL),
		ExpiresAt: rcpt.ExpiresAt,
	}
	item := f.item
	f.mu.Unlock()

	f.log.Info("invoice sent", "invoice_id", item.InvoiceID, "expires_at", item.ExpiresAt)
	f.resetCall()
	return item, nil
}

func (f *SellerFlow) resetCall() {
	if f.reset == nil {
		return
	}
	// A new call may already be ringing; that session is left alone.
	if err := f.reset.ResetState(); err != nil {
		f.log.Debug("call screen not reset", "err", err)
	}
}
