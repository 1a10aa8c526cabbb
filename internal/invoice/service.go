package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"marketcall/internal/signaling"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Emitter delivers server-originated signaling events.
type Emitter interface {
	Emit(ctx context.Context, to, event string, payload any) error
}

// Image is a stored invoice photo.
type Image struct {
	Bytes       []byte
	ContentType string
}

// Repository persists invoices. Items are insert-only.
type Repository interface {
	Create(ctx context.Context, it Item, img *Image) error
	Get(ctx context.Context, id string) (Item, error)
	Image(ctx context.Context, id string) (Image, error)
}

// Seller is the authenticated seller issuing an invoice.
type Seller struct {
	UserID   string
	ShopID   string
	ShopName string
}

// Service issues invoices for finished calls and hands them to the buyer.
type Service struct {
	repo     Repository
	calls    signaling.Registry
	emitter  Emitter
	clock    clock.Clock
	log      *slog.Logger
	imageURL func(invoiceID string) string
}

type ServiceOption func(*Service)

func WithClock(c clock.Clock) ServiceOption { return func(s *Service) { s.clock = c } }

func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.log = l } }

// WithImageURL sets how an invoice's image link is built for invoice_ready.
func WithImageURL(fn func(invoiceID string) string) ServiceOption {
	return func(s *Service) { s.imageURL = fn }
}

func NewService(repo Repository, calls signaling.Registry, emitter Emitter, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		calls:    calls,
		emitter:  emitter,
		clock:    clock.New(),
		log:      slog.Default(),
		imageURL: func(id string) string { return "/v1/invoices/" + id + "/image" },
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "invoice_service")
	return s
}

// Issue validates d, stores the invoice with ExpiresAt = CreatedAt + TTL and
// sends invoice_ready to the other participant of callID.
//
// A failed emit is logged but does not fail the request: the invoice exists
// and its expiry clock has started either way.
func (s *Service) Issue(ctx context.Context, seller Seller, callID string, d Draft) (Item, error) {
	if s.repo == nil || s.calls == nil || s.emitter == nil {
		return Item{}, errors.New("invoice: service not configured")
	}
	if seller.UserID == "" || seller.ShopID == "" {
		return Item{}, ErrNotParticipant
	}
	d.CallID = callID
	d, err := d.Normalize()
	if err != nil {
		return Item{}, err
	}
	raw, err := d.Image()
	if err != nil {
		return Item{}, err
	}

	p, err := s.calls.Lookup(ctx, callID)
	if errors.Is(err, signaling.ErrCallNotFound) {
		return Item{}, ErrNotParticipant
	}
	if err != nil {
		return Item{}, fmt.Errorf("invoice: lookup call: %w", err)
	}
	// Invoices follow an incoming call the seller answered.
	if p.Callee != seller.UserID {
		return Item{}, ErrNotParticipant
	}
	if !p.Answered() {
		return Item{}, ErrNotAnswered
	}
	buyerID := p.Caller

	now := s.clock.Now().UTC()
	it := Item{
		InvoiceID: uuid.NewString(),
		CallID:    callID,
		SellerID:  seller.UserID,
		BuyerID:   buyerID,
		ShopID:    seller.ShopID,
		ShopName:  seller.ShopName,
		ItemName:  d.ItemName,
		Price:     d.Price,
		Quantity:  d.Quantity,
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}
	var img *Image
	if len(raw) > 0 {
		img = &Image{Bytes: raw, ContentType: http.DetectContentType(raw)}
		it.ImageRef = s.imageURL(it.InvoiceID)
	}

	if err := s.repo.Create(ctx, it, img); err != nil {
		return Item{}, fmt.Errorf("invoice: store: %w", err)
	}
	if err := s.emitter.Emit(ctx, buyerID, signaling.EventInvoiceReady, it.Event()); err != nil {
		s.log.Warn("invoice_ready emit failed", "invoice_id", it.InvoiceID, "buyer_id", buyerID, "err", err)
	}
	s.log.Info("invoice issued", "invoice_id", it.InvoiceID, "call_id", callID, "shop_id", it.ShopID, "expires_at", it.ExpiresAt)
	return it, nil
}

// Image returns the invoice photo to either participant.
func (s *Service) Image(ctx context.Context, userID, invoiceID string) (Image, error) {
	it, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return Image{}, err
	}
	if userID != it.BuyerID && userID != it.SellerID {
		return Image{}, ErrNotFound
	}
	return s.repo.Image(ctx, invoiceID)
}
