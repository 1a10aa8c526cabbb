package invoice

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marketcall/internal/calls"
	"marketcall/internal/cart"
	"marketcall/internal/signaling"

	"github.com/benbjohnson/clock"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDraft_Normalize(t *testing.T) {
	ok, err := Draft{ItemName: "  Blue silk saree ", Price: 1200, Quantity: 1}.Normalize()
	if err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}
	if ok.ItemName != "Blue silk saree" {
		t.Fatalf("item name not trimmed: %q", ok.ItemName)
	}
	if _, err := (Draft{ItemName: "free sample", Price: 0, Quantity: 1}).Normalize(); err != nil {
		t.Fatalf("zero price is allowed: %v", err)
	}

	bad := []Draft{
		{ItemName: "   ", Price: 1, Quantity: 1},
		{ItemName: "x", Price: -1, Quantity: 1},
		{ItemName: "x", Price: 1, Quantity: 0},
		{ItemName: "x", Price: 1, Quantity: 1, ImageBase64: "not base64!"},
	}
	for i, d := range bad {
		if _, err := d.Normalize(); !errors.Is(err, ErrInvalidDraft) {
			t.Fatalf("case %d: expected ErrInvalidDraft, got %v", i, err)
		}
	}
}

type fakeSubmitter struct {
	mu    sync.Mutex
	errs  []error
	calls []Draft
	now   time.Time
}

func (f *fakeSubmitter) SubmitInvoice(_ context.Context, callID string, d Draft) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return Receipt{}, err
	}
	return Receipt{InvoiceID: "inv-" + callID, ExpiresAt: f.now.Add(TTL)}, nil
}

type resetCounter struct{ n int }

func (r *resetCounter) ResetState() error { r.n++; return nil }

func TestSellerFlow_RetryThenSent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sub := &fakeSubmitter{errs: []error{errors.New("timeout")}, now: now}
	reset := &resetCounter{}
	f := NewSellerFlow("c1", Shop{ID: "shop-1", Name: "Corner Shop"}, sub, reset, quiet)

	if _, err := f.Retry(context.Background()); !errors.Is(err, ErrNoDraft) {
		t.Fatalf("expected ErrNoDraft, got %v", err)
	}
	if _, err := f.Submit(context.Background(), Draft{ItemName: "", Price: 1, Quantity: 1}); !errors.Is(err, ErrInvalidDraft) {
		t.Fatalf("expected local validation error, got %v", err)
	}
	if len(sub.calls) != 0 {
		t.Fatalf("invalid draft must not be sent")
	}

	if _, err := f.Submit(context.Background(), Draft{ItemName: "Blue silk saree", Price: 1200, Quantity: 1}); err == nil {
		t.Fatalf("expected submit failure")
	}
	if f.State() != FlowFailed || f.LastError() == nil || reset.n != 0 {
		t.Fatalf("failed submit should keep the form: state=%s reset=%d", f.State(), reset.n)
	}

	it, err := f.Retry(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if it.InvoiceID != "inv-c1" || it.ShopID != "shop-1" || !it.ExpiresAt.Equal(now.Add(TTL)) {
		t.Fatalf("unexpected item %+v", it)
	}
	if sub.calls[1] != sub.calls[0] {
		t.Fatalf("retry must resend the same draft")
	}
	if f.State() != FlowSent || reset.n != 1 {
		t.Fatalf("success should reset the call screen: state=%s reset=%d", f.State(), reset.n)
	}
	if err := f.Skip(); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("skip after send: %v", err)
	}
}

func TestSellerFlow_Skip(t *testing.T) {
	reset := &resetCounter{}
	f := NewSellerFlow("c1", Shop{ID: "shop-1"}, &fakeSubmitter{}, reset, quiet)
	if err := f.Skip(); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if reset.n != 1 || f.State() != FlowSkipped {
		t.Fatalf("skip should reset the call screen")
	}
	if _, err := f.Submit(context.Background(), Draft{ItemName: "x", Price: 1, Quantity: 1}); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("submit after skip: %v", err)
	}
}

type prompter struct {
	answer bool
	asked  []string
}

func (p *prompter) ConfirmReplace(_ context.Context, current string, _ cart.Line) bool {
	p.asked = append(p.asked, current)
	return p.answer
}

type notifier struct{ lines []cart.Line }

func (n *notifier) InvoiceArrived(l cart.Line) { n.lines = append(n.lines, l) }

func readyEvent(id, shop string, created time.Time) signaling.InvoiceReady {
	return signaling.InvoiceReady{
		InvoiceID: id, CallID: "c1", ShopID: shop, ShopName: "Shop " + shop,
		ItemName: "Blue silk saree", Price: 1200, Quantity: 1, ExpiresAt: created.Add(TTL),
	}
}

func TestReceiver_InvoiceLandsInCartAndExpires(t *testing.T) {
	clk := clock.NewMock()
	created := clk.Now()
	c := cart.New()
	n := &notifier{}
	r := NewReceiver(c, &prompter{}, n, clk, quiet)

	env, err := signaling.NewEnvelope(signaling.EventInvoiceReady, signaling.ServerSender, "buyer-1", readyEvent("inv-1", "shop-B", created))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	r.Handle(env)
	r.Handle(env)

	lines := c.Lines()
	if len(lines) != 1 || lines[0].ShopID != "shop-B" || len(n.lines) != 1 {
		t.Fatalf("expected exactly one line and notification, got %d lines %d notes", len(lines), len(n.lines))
	}
	if !lines[0].InvoiceExpiresAt.Equal(created.Add(15 * time.Minute)) {
		t.Fatalf("expiry not copied verbatim: %v", lines[0].InvoiceExpiresAt)
	}
	if !cart.IsCheckoutable(lines[0], created.Add(14*time.Minute+59*time.Second)) {
		t.Fatalf("line should be checkoutable before 15 minutes")
	}
	if cart.IsCheckoutable(lines[0], created.Add(15*time.Minute+time.Second)) || c.CanCheckout(created.Add(15*time.Minute+time.Second)) {
		t.Fatalf("line must be non-checkoutable 15m1s after creation")
	}
}

func TestReceiver_ReplacePrompt(t *testing.T) {
	clk := clock.NewMock()
	now := clk.Now()
	c := cart.New()
	for _, item := range []string{"tea", "sugar"} {
		if _, err := c.Add(cart.Line{ShopID: "shop-A", ItemName: item, Price: 5, Quantity: 1}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	p := &prompter{answer: false}
	r := NewReceiver(c, p, nil, clk, quiet)
	if _, err := r.Deliver(context.Background(), readyEvent("inv-1", "shop-B", now)); !errors.Is(err, ErrReplaceDeclined) {
		t.Fatalf("expected ErrReplaceDeclined, got %v", err)
	}
	if len(c.Lines()) != 2 || c.ShopID() != "shop-A" {
		t.Fatalf("declined replace must keep the cart")
	}

	p.answer = true
	line, err := r.Deliver(context.Background(), readyEvent("inv-2", "shop-B", now))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	lines := c.Lines()
	if len(lines) != 1 || lines[0].LineID != line.LineID || c.ShopID() != "shop-B" {
		t.Fatalf("confirmed replace should leave exactly the new line: %+v", lines)
	}
	if len(p.asked) != 2 || p.asked[1] != "shop-A" {
		t.Fatalf("prompter should see the current shop: %v", p.asked)
	}
}

func TestReceiver_RejectsUntrustedAndExpired(t *testing.T) {
	clk := clock.NewMock()
	c := cart.New()
	r := NewReceiver(c, nil, nil, clk, quiet)

	env, _ := signaling.NewEnvelope(signaling.EventInvoiceReady, "seller-1", "buyer-1", readyEvent("inv-1", "shop-A", clk.Now()))
	r.Handle(env)
	if len(c.Lines()) != 0 {
		t.Fatalf("peer-sent invoice must be dropped")
	}

	old := readyEvent("inv-2", "shop-A", clk.Now().Add(-time.Hour))
	if _, err := r.Deliver(context.Background(), old); !errors.Is(err, ErrExpiredOnArrival) {
		t.Fatalf("expected ErrExpiredOnArrival, got %v", err)
	}
}

type recordingEmitter struct {
	mu   sync.Mutex
	to   []string
	sent []signaling.InvoiceReady
	err  error
}

func (e *recordingEmitter) Emit(_ context.Context, to, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if event != signaling.EventInvoiceReady {
		return errors.New("unexpected event " + event)
	}
	e.to = append(e.to, to)
	e.sent = append(e.sent, payload.(signaling.InvoiceReady))
	return e.err
}

func newService(t *testing.T) (*Service, *MemoryRepo, *recordingEmitter, *clock.Mock) {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	// c1 was answered by the seller; c2 rang out.
	reg := signaling.NewMemoryRegistry()
	for _, id := range []string{"c1", "c2"} {
		if err := reg.Register(ctx, signaling.Participants{CallID: id, Caller: "buyer-1", Callee: "seller-1", Kind: calls.KindVideo}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := reg.MarkAccepted(ctx, "c1", clk.Now()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	repo := NewMemoryRepo()
	em := &recordingEmitter{}
	return NewService(repo, reg, em, WithClock(clk), WithLogger(quiet)), repo, em, clk
}

func TestService_IssueSendsInvoiceReadyToBuyer(t *testing.T) {
	svc, repo, em, clk := newService(t)
	seller := Seller{UserID: "seller-1", ShopID: "shop-1", ShopName: "Corner Shop"}
	png := []byte("\x89PNG\r\n\x1a\n0000")

	it, err := svc.Issue(context.Background(), seller, "c1", Draft{
		ItemName: "Blue silk saree", Price: 1200, Quantity: 1,
		ImageBase64: base64.StdEncoding.EncodeToString(png),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !it.ExpiresAt.Equal(clk.Now().Add(15*time.Minute)) || it.ExpiresAt.Sub(it.CreatedAt) != TTL {
		t.Fatalf("unexpected expiry %v", it.ExpiresAt)
	}
	if it.BuyerID != "buyer-1" || it.ImageRef != "/v1/invoices/"+it.InvoiceID+"/image" {
		t.Fatalf("unexpected item %+v", it)
	}
	if len(em.to) != 1 || em.to[0] != "buyer-1" {
		t.Fatalf("invoice_ready should go to the buyer, got %v", em.to)
	}
	if ev := em.sent[0]; ev.InvoiceID != it.InvoiceID || ev.ShopID != "shop-1" || !ev.ExpiresAt.Equal(it.ExpiresAt) {
		t.Fatalf("unexpected event %+v", ev)
	}

	img, err := svc.Image(context.Background(), "buyer-1", it.InvoiceID)
	if err != nil || img.ContentType != "image/png" {
		t.Fatalf("image: %v %q", err, img.ContentType)
	}
	if _, err := svc.Image(context.Background(), "stranger", it.InvoiceID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stranger should not see the image, got %v", err)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected stored invoice")
	}
}

func TestService_IssueRejectsNonParticipants(t *testing.T) {
	svc, repo, em, _ := newService(t)
	d := Draft{ItemName: "x", Price: 1, Quantity: 1}

	if _, err := svc.Issue(context.Background(), Seller{UserID: "seller-2", ShopID: "s"}, "c1", d); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := svc.Issue(context.Background(), Seller{UserID: "seller-1", ShopID: "s"}, "unknown", d); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant for unknown call, got %v", err)
	}
	if _, err := svc.Issue(context.Background(), Seller{UserID: "buyer-1", ShopID: "s"}, "c1", d); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("the caller cannot invoice its own call, got %v", err)
	}
	if _, err := svc.Issue(context.Background(), Seller{UserID: "seller-1", ShopID: "s"}, "c2", d); !errors.Is(err, ErrNotAnswered) {
		t.Fatalf("expected ErrNotAnswered for an unanswered call, got %v", err)
	}
	if _, err := svc.Issue(context.Background(), Seller{UserID: "seller-1", ShopID: "s"}, "c1", Draft{ItemName: "x", Quantity: 0}); !errors.Is(err, ErrInvalidDraft) {
		t.Fatalf("expected ErrInvalidDraft, got %v", err)
	}
	if repo.Len() != 0 || len(em.to) != 0 {
		t.Fatalf("rejected invoices must not be stored or sent")
	}
}

func TestService_EmitFailureStillIssues(t *testing.T) {
	svc, repo, em, _ := newService(t)
	em.err = signaling.ErrDisconnected
	if _, err := svc.Issue(context.Background(), Seller{UserID: "seller-1", ShopID: "s"}, "c1", Draft{ItemName: "x", Price: 1, Quantity: 2}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if repo.Len() != 1 {
		t.Fatalf("invoice should be stored")
	}
}

func TestJanitor_PurgesPastRetention(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		created := base.Add(-age)
		_ = repo.Create(context.Background(), Item{InvoiceID: string(rune('a' + i)), CreatedAt: created, ExpiresAt: created.Add(TTL)}, nil)
	}

	j, err := NewJanitor(repo, "@every 1h", 24*time.Hour, quiet)
	if err != nil {
		t.Fatalf("janitor: %v", err)
	}
	clk := clock.NewMock()
	clk.Set(base)
	j.clock = clk

	n, err := j.RunOnce(context.Background())
	if err != nil || n != 2 || repo.Len() != 1 {
		t.Fatalf("expected 2 purged and 1 kept, got n=%d len=%d err=%v", n, repo.Len(), err)
	}
	if _, err := NewJanitor(repo, "not a schedule", time.Hour, quiet); err == nil {
		t.Fatalf("expected schedule error")
	}
}
