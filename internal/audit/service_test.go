package audit

import (
	"context"
	"testing"
	"time"

	"marketcall/internal/callback"
	"marketcall/internal/invoice"
)

func TestService_AppendRequiresTypeAndActor(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	if err := svc.Append(context.Background(), Event{ActorUserID: "u"}); err == nil {
		t.Fatalf("expected error without type")
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeInvoiceIssued}); err == nil {
		t.Fatalf("expected error without actor")
	}
}

func TestService_RecordsDomainEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	a := Actor{UserID: "seller-1", Role: "seller", IP: "10.0.0.7"}

	svc.InvoiceIssued(ctx, a, invoice.Item{InvoiceID: "inv-1", CallID: "c1", ShopID: "shop-1", BuyerID: "buyer-1"})
	svc.CallbackScheduled(ctx, Actor{UserID: "buyer-1"}, callback.Record{ID: "cb-1", ShopID: "shop-1", ScheduledAt: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)})

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != EventTypeInvoiceIssued || evs[0].SubjectID != "inv-1" || evs[0].IPAddress != "10.0.0.7" || evs[0].ID == "" {
		t.Fatalf("unexpected invoice event %+v", evs[0])
	}
	if evs[1].Type != EventTypeCallbackScheduled || evs[1].Message != "callback at 2026-03-10T15:00:00Z" {
		t.Fatalf("unexpected callback event %+v", evs[1])
	}
}

func TestService_NilIsSafe(t *testing.T) {
	var svc *Service
	svc.MediaIssued(context.Background(), Actor{UserID: "u"}, "c1")
}

func TestClientIPContext(t *testing.T) {
	ctx := WithClientIP(context.Background(), "1.2.3.4")
	if ClientIPFromContext(ctx) != "1.2.3.4" {
		t.Fatalf("ip not carried")
	}
	if ClientIPFromContext(WithClientIP(context.Background(), "")) != "" {
		t.Fatalf("empty ip should not be stored")
	}
}
