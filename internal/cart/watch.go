package cart

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

// Countdown is one tick of the invoice expiry watch.
type Countdown struct {
	Now time.Time
	// Remaining holds time left per live invoice line, keyed by line id.
	Remaining map[string]time.Duration
	// Expired lists lines that became non-checkoutable since the previous tick.
	Expired     []Line
	CanCheckout bool
}

// WatchExpiry recomputes invoice countdowns once per second until ctx ends.
// onTick runs only while some invoice line is live or has just expired, and
// every line is reported in Expired exactly once.
func (c *Cart) WatchExpiry(ctx context.Context, clk clock.Clock, onTick func(Countdown)) {
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(time.Second)
	defer ticker.Stop()

	reported := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := clk.Now()
		lines := c.Lines()
		invoiceLines := lo.Filter(lines, func(l Line, _ int) bool { return l.FromInvoice() })

		cd := Countdown{Now: now, Remaining: make(map[string]time.Duration)}
		for _, l := range invoiceLines {
			if IsCheckoutable(l, now) {
				cd.Remaining[l.LineID] = Remaining(l, now)
				continue
			}
			if !reported[l.LineID] {
				reported[l.LineID] = true
				cd.Expired = append(cd.Expired, l)
			}
		}
		if len(cd.Remaining) == 0 && len(cd.Expired) == 0 {
			continue
		}
		cd.CanCheckout = len(lines) > 0 && lo.EveryBy(lines, func(l Line) bool { return IsCheckoutable(l, now) })
		onTick(cd)
	}
}
