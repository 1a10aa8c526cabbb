package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketcall/internal/calls"
	"marketcall/internal/callback"
	"marketcall/internal/invoice"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error is a non-2xx answer from the API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *Error) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client calls the marketplace API on behalf of one signed-in device.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   *slog.Logger
}

func New(baseURL, token string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:  u,
		token: token,
		http:  &http.Client{Timeout: timeout},
		log:   log.With("component", "api_client"),
	}, nil
}

type invoiceResponse struct {
	InvoiceID string    `json:"invoiceId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SubmitInvoice posts a seller's draft for callID.
func (c *Client) SubmitInvoice(ctx context.Context, callID string, d invoice.Draft) (invoice.Receipt, error) {
	var out invoiceResponse
	err := c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(callID)+"/invoice", d, &out)
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadRequest:
			return invoice.Receipt{}, fmt.Errorf("%w: %w", invoice.ErrInvalidDraft, err)
		case http.StatusForbidden:
			return invoice.Receipt{}, fmt.Errorf("%w: %w", invoice.ErrNotParticipant, err)
		}
	}
	if err != nil {
		return invoice.Receipt{}, err
	}
	return invoice.Receipt{InvoiceID: out.InvoiceID, ExpiresAt: out.ExpiresAt}, nil
}

// ScheduleCallback posts a callback request. A taken slot maps to callback.ErrConflict.
func (c *Client) ScheduleCallback(ctx context.Context, req callback.Request) (callback.Ack, error) {
	var out callback.Ack
	err := c.do(ctx, http.MethodPost, "/v1/calls/schedule-callback", req, &out)
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusConflict:
			return callback.Ack{}, fmt.Errorf("%w: %w", callback.ErrConflict, err)
		case http.StatusUnprocessableEntity:
			return callback.Ack{}, fmt.Errorf("%w: %w", callback.ErrSlotUnavailable, err)
		}
	}
	if err != nil {
		return callback.Ack{}, err
	}
	return out, nil
}

type mediaResponse struct {
	Local  calls.MediaConfig `json:"local"`
	Remote calls.MediaConfig `json:"remote"`
}

// MediaForCall asks the API for the accepting device's and the caller's media configs.
func (c *Client) MediaForCall(ctx context.Context, callID string) (local, remote calls.MediaConfig, err error) {
	var out mediaResponse
	if err := c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(callID)+"/media", nil, &out); err != nil {
		return calls.MediaConfig{}, calls.MediaConfig{}, err
	}
	return out.Local, out.Remote, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encode: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("apiclient: read body: %w", err)
	}
	c.log.Debug("api call", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("apiclient: decode: %w", err)
	}
	return nil
}
