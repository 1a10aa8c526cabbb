package cart

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrDifferentShop = errors.New("cart: line belongs to a different shop")
	ErrInvalidLine   = errors.New("cart: invalid line")
	ErrDuplicate     = errors.New("cart: invoice already in cart")
)

// Line is one cart entry. Invoice lines carry the invoice expiry verbatim.
type Line struct {
	LineID   string  `json:"lineId"`
	ShopID   string  `json:"shopId"`
	ShopName string  `json:"shopName"`
	ItemName string  `json:"itemName"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	ImageURL string  `json:"imageUrl,omitempty"`

	InvoiceID        string     `json:"invoiceId,omitempty"`
	InvoiceExpiresAt *time.Time `json:"invoiceExpiresAt,omitempty"`
}

func (l Line) FromInvoice() bool { return l.InvoiceExpiresAt != nil }

// IsCheckoutable reports whether l may proceed to checkout at now.
// Lines without an invoice expiry never expire.
func IsCheckoutable(l Line, now time.Time) bool {
	if l.InvoiceExpiresAt == nil {
		return true
	}
	return now.Before(*l.InvoiceExpiresAt)
}

// Remaining is the time left before l stops being checkoutable, zero once expired.
func Remaining(l Line, now time.Time) time.Duration {
	if l.InvoiceExpiresAt == nil {
		return 0
	}
	if d := l.InvoiceExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Cart holds lines from exactly one shop at a time.
type Cart struct {
	mu     sync.Mutex
	shopID string
	lines  []Line
}

func New() *Cart { return &Cart{} }

// Add appends l. A line from another shop than the current contents is rejected
// with ErrDifferentShop; the caller must confirm and use Replace.
func (c *Cart) Add(l Line) (Line, error) {
	l, err := normalize(l)
	if err != nil {
		return Line{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) > 0 && c.shopID != l.ShopID {
		return Line{}, ErrDifferentShop
	}
	if l.InvoiceID != "" && lo.ContainsBy(c.lines, func(x Line) bool { return x.InvoiceID == l.InvoiceID }) {
		return Line{}, ErrDuplicate
	}
	c.shopID = l.ShopID
	c.lines = append(c.lines, l)
	return l, nil
}

// Replace discards every existing line and leaves l as the only one.
func (c *Cart) Replace(l Line) (Line, error) {
	l, err := normalize(l)
	if err != nil {
		return Line{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.shopID = l.ShopID
	c.lines = []Line{l}
	return l, nil
}

func (c *Cart) Remove(lineID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.lines)
	c.lines = lo.Reject(c.lines, func(x Line, _ int) bool { return x.LineID == lineID })
	if len(c.lines) == 0 {
		c.shopID = ""
	}
	return len(c.lines) != n
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.shopID = ""
}

func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// ShopID is empty while the cart is empty.
func (c *Cart) ShopID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shopID
}

// CanCheckout is false for an empty cart or while any expired invoice line remains.
func (c *Cart) CanCheckout(now time.Time) bool {
	lines := c.Lines()
	return len(lines) > 0 && lo.EveryBy(lines, func(l Line) bool { return IsCheckoutable(l, now) })
}

func (c *Cart) Total() float64 {
	return lo.SumBy(c.Lines(), func(l Line) float64 { return l.Price * float64(l.Quantity) })
}

func normalize(l Line) (Line, error) {
	if l.ShopID == "" || l.ItemName == "" || l.Quantity < 1 || l.Price < 0 {
		return Line{}, ErrInvalidLine
	}
	if l.LineID == "" {
		l.LineID = uuid.NewString()
	}
	if l.InvoiceExpiresAt != nil {
		t := *l.InvoiceExpiresAt
		l.InvoiceExpiresAt = &t
	}
	return l, nil
}
