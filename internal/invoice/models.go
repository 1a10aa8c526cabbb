package invoice

import (
	"encoding/base64"
	"errors"
	"math"
	"strings"
	"time"

	"marketcall/internal/cart"
	"marketcall/internal/signaling"

	"github.com/go-playground/validator/v10"
)

// TTL is how long an invoice stays checkoutable after creation.
const TTL = 15 * time.Minute

// MaxImageBytes caps the decoded invoice photo.
const MaxImageBytes = 2 << 20

var (
	ErrInvalidDraft   = errors.New("invoice: invalid draft")
	ErrNotParticipant = errors.New("invoice: seller did not take part in this call")
	ErrNotAnswered    = errors.New("invoice: seller never accepted this call")
	ErrNotFound       = errors.New("invoice: not found")
	ErrNoImage        = errors.New("invoice: no image")
)

// Item is an issued invoice. It is never mutated after creation.
type Item struct {
	InvoiceID string    `json:"invoiceId" db:"id"`
	CallID    string    `json:"callId,omitempty" db:"call_id"`
	SellerID  string    `json:"sellerId" db:"seller_id"`
	BuyerID   string    `json:"buyerId" db:"buyer_id"`
	ShopID    string    `json:"shopId" db:"shop_id"`
	ShopName  string    `json:"shopName" db:"shop_name"`
	ItemName  string    `json:"itemName" db:"item_name"`
	Price     float64   `json:"price" db:"price"`
	Quantity  int       `json:"quantity" db:"quantity"`
	ImageRef  string    `json:"imageRef,omitempty" db:"image_ref"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// Event is the invoice_ready payload sent to the buyer.
func (it Item) Event() signaling.InvoiceReady {
	return signaling.InvoiceReady{
		InvoiceID: it.InvoiceID,
		CallID:    it.CallID,
		ShopID:    it.ShopID,
		ShopName:  it.ShopName,
		ItemName:  it.ItemName,
		Price:     it.Price,
		ImageURL:  it.ImageRef,
		Quantity:  it.Quantity,
		ExpiresAt: it.ExpiresAt,
	}
}

// Draft is what the seller fills in after a call.
type Draft struct {
	CallID      string  `json:"-"`
	ItemName    string  `json:"itemName" validate:"required,max=200"`
	Price       float64 `json:"price" validate:"gte=0"`
	Quantity    int     `json:"quantity" validate:"gte=1"`
	ImageBase64 string  `json:"imageBase64,omitempty" validate:"omitempty,base64"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize trims the item name and validates the draft.
func (d Draft) Normalize() (Draft, error) {
	d.ItemName = strings.TrimSpace(d.ItemName)
	if math.IsNaN(d.Price) || math.IsInf(d.Price, 0) {
		return Draft{}, errors.Join(ErrInvalidDraft, errors.New("price must be a number"))
	}
	if err := validate.Struct(d); err != nil {
		return Draft{}, errors.Join(ErrInvalidDraft, err)
	}
	return d, nil
}

// Image decodes the optional photo.
func (d Draft) Image() ([]byte, error) {
	if d.ImageBase64 == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(d.ImageBase64)
	if err != nil {
		return nil, errors.Join(ErrInvalidDraft, err)
	}
	if len(raw) > MaxImageBytes {
		return nil, errors.Join(ErrInvalidDraft, errors.New("image too large"))
	}
	return raw, nil
}

// Receipt is the server's answer to a submitted draft.
type Receipt struct {
	InvoiceID string    `json:"invoiceId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LineFromEvent builds the cart line for an invoice_ready payload.
// The expiry is copied verbatim.
func LineFromEvent(ev signaling.InvoiceReady) cart.Line {
	exp := ev.ExpiresAt
	return cart.Line{
		ShopID:           ev.ShopID,
		ShopName:         ev.ShopName,
		ItemName:         ev.ItemName,
		Price:            ev.Price,
		Quantity:         ev.Quantity,
		ImageURL:         ev.ImageURL,
		InvoiceID:        ev.InvoiceID,
		InvoiceExpiresAt: &exp,
	}
}
