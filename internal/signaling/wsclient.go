package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

// WSClient is the device side of the signaling relay.
// Run keeps the connection alive and redials with backoff until ctx ends.
type WSClient struct {
	url    string
	token  string
	dialer *websocket.Dialer
	log    *slog.Logger
	reg    *registry

	BackoffMin time.Duration
	BackoffMax time.Duration

	mu   sync.Mutex
	send chan []byte
}

var (
	_ Channel        = (*WSClient)(nil)
	_ StatusNotifier = (*WSClient)(nil)
)

func NewWSClient(url, token string, log *slog.Logger) *WSClient {
	if log == nil {
		log = slog.Default()
	}
	return &WSClient{
		url:        url,
		token:      token,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:        log.With("component", "signaling_client"),
		reg:        newRegistry(),
		BackoffMin: 500 * time.Millisecond,
		BackoffMax: 15 * time.Second,
	}
}

func (c *WSClient) On(event string, h Handler) func() { return c.reg.on(event, h) }

func (c *WSClient) OnStatus(fn func(Status)) func() { return c.reg.onStatus(fn) }

func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send != nil
}

func (c *WSClient) Emit(ctx context.Context, to, event string, payload any) error {
	if !KnownEvent(event) {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := wire.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s: %w", event, err)
	}
	frame, err := wire.Marshal(Envelope{Event: event, To: to, Payload: raw})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return ErrDisconnected
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run blocks until ctx is cancelled.
func (c *WSClient) Run(ctx context.Context) error {
	backoff := c.BackoffMin
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.BackoffMin
		}
		c.log.Warn("signaling connection lost", "err", err, "retry_in", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > c.BackoffMax {
			backoff = c.BackoffMax
		}
	}
}

func (c *WSClient) session(ctx context.Context) (bool, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return false, err
	}

	send := make(chan []byte, wsSendBuffer)
	done := make(chan struct{})
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()
	c.log.Info("signaling connected", "url", c.url)
	c.reg.notify(StatusConnected)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go c.writePump(conn, send, done)

	err = c.readPump(conn)

	c.mu.Lock()
	c.send = nil
	c.mu.Unlock()
	close(done)
	_ = conn.Close()
	c.reg.notify(StatusDisconnected)
	return true, err
}

func (c *WSClient) readPump(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := wire.Unmarshal(payload, &env); err != nil {
			c.log.Debug("signaling bad frame", "err", err)
			continue
		}
		if n := c.reg.dispatch(env); n == 0 {
			c.log.Debug("signaling event without subscriber", "event", env.Event)
		}
	}
}

func (c *WSClient) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
