package apiclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketcall/internal/callback"
	"marketcall/internal/invoice"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "tok", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestSubmitInvoice(t *testing.T) {
	exp := time.Date(2026, 3, 10, 12, 15, 0, 0, time.UTC)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/calls/c1/invoice" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		var d invoice.Draft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.ItemName != "Blue silk saree" || d.Quantity != 1 {
			t.Errorf("unexpected body %+v (%v)", d, err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"invoiceId":"inv-1","expiresAt":"2026-03-10T12:15:00Z"}`))
	})

	rcpt, err := c.SubmitInvoice(context.Background(), "c1", invoice.Draft{ItemName: "Blue silk saree", Price: 1200, Quantity: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rcpt.InvoiceID != "inv-1" || !rcpt.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected receipt %+v", rcpt)
	}
}

func TestScheduleCallback_ConflictMapsToSentinel(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"slot already taken"}`))
	})
	_, err := c.ScheduleCallback(context.Background(), callback.Request{ShopID: "s", ScheduledAt: time.Now()})
	if !errors.Is(err, callback.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Message != "slot already taken" || apiErr.Temporary() {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestMediaForCall(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calls/c1/media" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"local":{"channelName":"call-c1","token":"a","localUid":"seller-1","endpoint":"wss://m"},"remote":{"channelName":"call-c1","token":"b","localUid":"buyer-1","endpoint":"wss://m"}}`))
	})
	local, remote, err := c.MediaForCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	if !local.Valid() || !remote.Valid() || local.LocalUID != "seller-1" || remote.Token != "b" {
		t.Fatalf("unexpected configs %+v %+v", local, remote)
	}
}

func TestServerErrorIsTemporary(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, _, err := c.MediaForCall(context.Background(), "c1")
	var apiErr *Error
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Fatalf("expected temporary api error, got %v", err)
	}
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	if _, err := New("not a url", "", 0, nil); err == nil {
		t.Fatalf("expected error")
	}
}
