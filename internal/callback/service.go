package callback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Repository stores callback requests. Insert returns ErrConflict when the
// shop already has a callback in the same window.
type Repository interface {
	Insert(ctx context.Context, r Record) error
	ListForShop(ctx context.Context, shopID string, from time.Time) ([]Record, error)
}

// Service accepts callback requests on the API side. It is authoritative on
// conflicts; devices do no local conflict detection.
type Service struct {
	repo  Repository
	clock clock.Clock
	log   *slog.Logger
}

func NewService(repo Repository, clk clock.Clock, log *slog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: clk, log: log.With("component", "callback_service")}
}

func (s *Service) Schedule(ctx context.Context, buyerID string, req Request) (Record, error) {
	if s.repo == nil {
		return Record{}, errors.New("callback: repository not configured")
	}
	if buyerID == "" {
		return Record{}, ErrInvalidRequest
	}
	if err := req.Validate(); err != nil {
		return Record{}, err
	}

	now := s.clock.Now()
	if !IsWindowStart(req.ScheduledAt) ||
		!now.Before(req.ScheduledAt.Add(WindowLength)) ||
		req.ScheduledAt.After(now.AddDate(0, 0, MenuDays)) {
		return Record{}, ErrSlotUnavailable
	}

	rec := Record{
		ID:          uuid.NewString(),
		BuyerID:     buyerID,
		ShopID:      req.ShopID,
		ScheduledAt: req.ScheduledAt.UTC(),
		Origin:      req.Origin,
		CreatedAt:   now.UTC(),
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return Record{}, err
	}
	s.log.Info("callback scheduled", "callback_id", rec.ID, "shop_id", rec.ShopID, "buyer_id", buyerID, "scheduled_at", rec.ScheduledAt)
	return rec, nil
}

// Upcoming lists a shop's callbacks whose window has not ended yet.
func (s *Service) Upcoming(ctx context.Context, shopID string) ([]Record, error) {
	if shopID == "" {
		return nil, ErrInvalidRequest
	}
	return s.repo.ListForShop(ctx, shopID, s.clock.Now().Add(-WindowLength).UTC())
}
