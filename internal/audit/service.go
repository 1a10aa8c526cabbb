package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marketcall/internal/callback"
	"marketcall/internal/invoice"

	"github.com/google/uuid"
)

// Repository is the persistence contract. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Service records audit events. Callers treat it as best-effort: a failed
// append is logged and never fails the audited request.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: time.Now, log: log.With("component", "audit")}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) InvoiceIssued(ctx context.Context, a Actor, it invoice.Item) {
	s.record(ctx, Event{
		Type:        EventTypeInvoiceIssued,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		CallID:      it.CallID,
		ShopID:      it.ShopID,
		SubjectID:   it.InvoiceID,
		Message:     "invoice issued to " + it.BuyerID,
	})
}

func (s *Service) CallbackScheduled(ctx context.Context, a Actor, rec callback.Record) {
	s.record(ctx, Event{
		Type:        EventTypeCallbackScheduled,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		ShopID:      rec.ShopID,
		SubjectID:   rec.ID,
		Message:     "callback at " + rec.ScheduledAt.Format(time.RFC3339),
	})
}

func (s *Service) MediaIssued(ctx context.Context, a Actor, callID string) {
	s.record(ctx, Event{
		Type:        EventTypeMediaIssued,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		CallID:      callID,
	})
}

func (s *Service) record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "type", e.Type, "err", err)
	}
}
