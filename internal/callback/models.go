package callback

import (
	"errors"
	"time"

	"marketcall/internal/calls"

	"github.com/go-playground/validator/v10"
)

var (
	ErrAlreadyScheduled = errors.New("callback: already scheduled")
	ErrAbandoned        = errors.New("callback: offer abandoned")
	ErrInFlight         = errors.New("callback: request in flight")
	ErrConflict         = errors.New("callback: slot already taken")
	ErrSlotUnavailable  = errors.New("callback: slot unavailable")
	ErrInvalidRequest   = errors.New("callback: invalid request")
	ErrNotOffered       = errors.New("callback: no callback offered for this call")
)

// Request is what the buyer submits. ScheduledAt is the start of a window.
type Request struct {
	ShopID      string          `json:"shopId" validate:"required"`
	ScheduledAt time.Time       `json:"scheduledAt" validate:"required"`
	Origin      calls.EndReason `json:"origin,omitempty" validate:"omitempty,oneof=declined no_answer"`
}

// Ack is the server's acceptance.
type Ack struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

const StatusScheduled = "scheduled"

// Record is a stored callback request.
type Record struct {
	ID          string          `json:"id" db:"id"`
	BuyerID     string          `json:"buyer_id" db:"buyer_id"`
	ShopID      string          `json:"shop_id" db:"shop_id"`
	ScheduledAt time.Time       `json:"scheduled_at" db:"scheduled_at"`
	Origin      calls.EndReason `json:"origin,omitempty" db:"origin"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errors.Join(ErrInvalidRequest, err)
	}
	return nil
}
