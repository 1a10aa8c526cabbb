package audit

import "time"

// Event is an append-only record of a state change made through the API.
// Events are never updated or deleted.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	// IPAddress is best-effort, resolved at the HTTP edge.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID string `json:"call_id,omitempty" db:"call_id"`
	ShopID string `json:"shop_id,omitempty" db:"shop_id"`
	// SubjectID is the invoice or callback id the event is about.
	SubjectID string `json:"subject_id,omitempty" db:"subject_id"`

	Message   string    `json:"message,omitempty" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeInvoiceIssued     EventType = "invoice_issued"
	EventTypeCallbackScheduled EventType = "callback_scheduled"
	EventTypeMediaIssued       EventType = "media_issued"
)

// Actor is who performed the audited action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
