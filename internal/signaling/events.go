package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"marketcall/internal/calls"

	jsoniter "github.com/json-iterator/go"
)

// wire encodes envelopes and payloads on every signaling path.
var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// Event names carried over the signaling channel.
const (
	EventCallRequested = "call_requested"
	EventCallRinging   = "call_ringing"
	EventCallAccepted  = "call_accepted"
	EventCallDeclined  = "call_declined"
	EventCallEnded     = "call_ended"
	EventInvoiceReady  = "invoice_ready"
)

func KnownEvent(name string) bool {
	switch name {
	case EventCallRequested, EventCallRinging, EventCallAccepted, EventCallDeclined, EventCallEnded, EventInvoiceReady:
		return true
	default:
		return false
	}
}

// Envelope is the wire frame. From is stamped by the relay, never trusted from clients.
type Envelope struct {
	Event   string          `json:"event"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope addressed to to.
func NewEnvelope(event, from, to string, payload any) (Envelope, error) {
	if !KnownEvent(event) {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	raw, err := wire.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("signaling: marshal %s: %w", event, err)
	}
	return Envelope{Event: event, To: to, From: from, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("signaling: %s: empty payload", e.Event)
	}
	if err := wire.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("signaling: %s: %w", e.Event, err)
	}
	return nil
}

type CallRequested struct {
	CallID     string     `json:"callId"`
	FromPeerID string     `json:"fromPeerId"`
	FromName   string     `json:"fromName,omitempty"`
	Kind       calls.Kind `json:"kind"`
}

type CallRinging struct {
	CallID string `json:"callId"`
}

type CallAccepted struct {
	CallID      string            `json:"callId"`
	MediaConfig calls.MediaConfig `json:"mediaConfig"`
}

type CallDeclined struct {
	CallID string `json:"callId"`
}

type CallEnded struct {
	CallID string          `json:"callId"`
	Reason calls.EndReason `json:"reason"`
}

type InvoiceReady struct {
	InvoiceID string    `json:"invoiceId"`
	CallID    string    `json:"callId,omitempty"`
	ShopID    string    `json:"shopId"`
	ShopName  string    `json:"shopName"`
	ItemName  string    `json:"itemName"`
	Price     float64   `json:"price"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CallIDOf extracts callId from any call event payload without knowing its type.
func CallIDOf(e Envelope) string {
	var probe struct {
		CallID string `json:"callId"`
	}
	if err := wire.Unmarshal(e.Payload, &probe); err != nil {
		return ""
	}
	return probe.CallID
}
