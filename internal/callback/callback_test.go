package callback

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketcall/internal/calls"

	"github.com/benbjohnson/clock"
)

var afternoon = time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)

func TestMenu_FourDaysOfFourWindows(t *testing.T) {
	days := Menu(afternoon)
	if len(days) != 4 {
		t.Fatalf("expected 4 days, got %d", len(days))
	}
	for _, d := range days {
		if len(d.Slots) != 4 {
			t.Fatalf("expected 4 windows on %s, got %d", d.Label, len(d.Slots))
		}
	}
	if days[0].Label != "Today" || days[1].Label != "Tomorrow" || days[2].Label != "Thu 12 Mar" {
		t.Fatalf("unexpected day labels: %q %q %q", days[0].Label, days[1].Label, days[2].Label)
	}

	today := days[0].Slots
	if today[0].Available {
		t.Fatalf("09:00-12:00 already ended")
	}
	if !today[1].Available {
		t.Fatalf("12:00-15:00 is still running and should be offered")
	}
	if today[2].Label != "Today, 3:00 PM-6:00 PM" {
		t.Fatalf("unexpected label %q", today[2].Label)
	}
	if n := len(AvailableSlots(afternoon)); n != 15 {
		t.Fatalf("expected 15 available windows, got %d", n)
	}
	last := days[3].Slots[3]
	if !last.Start.Equal(time.Date(2026, 3, 13, 18, 0, 0, 0, time.UTC)) || last.End.Sub(last.Start) != WindowLength {
		t.Fatalf("unexpected last window %+v", last)
	}
}

type fakeScheduler struct {
	errs []error
	reqs []Request
}

func (f *fakeScheduler) ScheduleCallback(_ context.Context, req Request) (Ack, error) {
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return Ack{}, err
		}
	}
	return Ack{Status: StatusScheduled, ID: "cb-1"}, nil
}

func endedSession(reason calls.EndReason) calls.Session {
	return calls.Session{CallID: "c1", State: calls.StateEnded, EndReason: reason, CallbackOffered: true}
}

func TestOffer_OneShotWithRetry(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(afternoon)
	client := &fakeScheduler{errs: []error{errors.New("network down")}}

	o, err := NewOffer(endedSession(calls.EndReasonNoAnswer), "shop-1", client, clk, nil)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	slot := o.Menu()[0].Slots[2]

	if _, err := o.Schedule(context.Background(), slot); err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	ack, err := o.Schedule(context.Background(), slot)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ack.Status != StatusScheduled {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if _, err := o.Schedule(context.Background(), slot); !errors.Is(err, ErrAlreadyScheduled) {
		t.Fatalf("expected ErrAlreadyScheduled, got %v", err)
	}

	if len(client.reqs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(client.reqs))
	}
	req := client.reqs[1]
	if req.ShopID != "shop-1" || !req.ScheduledAt.Equal(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)) || req.Origin != calls.EndReasonNoAnswer {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestOffer_RejectsEndedWindowAndAbandon(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(afternoon)
	client := &fakeScheduler{}
	o, _ := NewOffer(endedSession(calls.EndReasonDeclined), "shop-1", client, clk, nil)

	if _, err := o.Schedule(context.Background(), o.Menu()[0].Slots[0]); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	o.Abandon()
	if _, err := o.Schedule(context.Background(), o.Menu()[1].Slots[0]); !errors.Is(err, ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}
	if len(client.reqs) != 0 {
		t.Fatalf("nothing should be submitted")
	}
}

func TestNewOffer_RequiresOfferedSession(t *testing.T) {
	s := endedSession(calls.EndReasonHangup)
	s.CallbackOffered = false
	if _, err := NewOffer(s, "shop-1", &fakeScheduler{}, nil, nil); !errors.Is(err, ErrNotOffered) {
		t.Fatalf("expected ErrNotOffered, got %v", err)
	}
}

func TestService_ScheduleConflictsAndValidation(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(afternoon)
	svc := NewService(NewMemoryRepo(), clk, nil)
	ctx := context.Background()
	slot := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	rec, err := svc.Schedule(ctx, "buyer-1", Request{ShopID: "shop-1", ScheduledAt: slot, Origin: calls.EndReasonDeclined})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if rec.ID == "" || rec.BuyerID != "buyer-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := svc.Schedule(ctx, "buyer-2", Request{ShopID: "shop-1", ScheduledAt: slot}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := svc.Schedule(ctx, "buyer-2", Request{ShopID: "shop-2", ScheduledAt: slot}); err != nil {
		t.Fatalf("other shop should be free: %v", err)
	}

	cases := map[string]struct {
		req  Request
		want error
	}{
		"missing shop":   {Request{ScheduledAt: slot}, ErrInvalidRequest},
		"bad origin":     {Request{ShopID: "s", ScheduledAt: slot, Origin: calls.EndReasonHangup}, ErrInvalidRequest},
		"off window":     {Request{ShopID: "s", ScheduledAt: slot.Add(30 * time.Minute)}, ErrSlotUnavailable},
		"ended window":   {Request{ShopID: "s", ScheduledAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}, ErrSlotUnavailable},
		"too far ahead":  {Request{ShopID: "s", ScheduledAt: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)}, ErrSlotUnavailable},
		"running window": {Request{ShopID: "s", ScheduledAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}, nil},
	}
	for name, tc := range cases {
		_, err := svc.Schedule(ctx, "buyer-3", tc.req)
		if tc.want == nil && err != nil || tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}

	up, err := svc.Upcoming(ctx, "shop-1")
	if err != nil || len(up) != 1 {
		t.Fatalf("expected one upcoming callback, got %d (%v)", len(up), err)
	}
}
