package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"marketcall/internal/auth"
	"marketcall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	hubSendBuffer   = 32
	hubRelayChannel = "signaling:relay"

	// ServerSender is the From value of events originated by the API itself.
	ServerSender = "server"
)

type hubClient struct {
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	closeOnce sync.Once
}

func (c *hubClient) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *hubClient) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// relayFrame is what travels between API instances over Redis pub/sub.
type relayFrame struct {
	Origin   string   `json:"origin"`
	Envelope Envelope `json:"envelope"`
}

// Hub is the server side of signaling: one websocket per user, routed by Envelope.To.
// With a Redis client set, envelopes for users connected elsewhere are fanned out.
type Hub struct {
	registry Registry
	rdb      *redis.Client
	log      *slog.Logger
	instance string
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[string]*hubClient
}

func NewHub(registry Registry, rdb *redis.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		registry: registry,
		rdb:      rdb,
		log:      log.With("component", "signaling_hub"),
		instance: uuid.NewString(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Sockets authenticate with a bearer token in the header or query, never a
			// cookie, so a foreign page has no ambient credential to ride and any origin is allowed.
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:     time.Now,
		clients: make(map[string]*hubClient),
	}
}

// Emit sends a server-originated event, e.g. invoice_ready.
func (h *Hub) Emit(ctx context.Context, to, event string, payload any) error {
	if !KnownEvent(event) {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	raw, err := wire.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s: %w", event, err)
	}
	h.route(ctx, Envelope{Event: event, To: to, From: ServerSender, Payload: raw})
	return nil
}

// Online reports whether userID has a socket on this instance.
func (h *Hub) Online(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[userID]
	return ok
}

// Run consumes the cross-instance relay until ctx ends. It is a no-op without Redis.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	sub := h.rdb.Subscribe(ctx, hubRelayChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("signaling: relay subscription closed")
			}
			var f relayFrame
			if err := wire.Unmarshal([]byte(msg.Payload), &f); err != nil {
				h.log.Debug("relay bad frame", "err", err)
				continue
			}
			if f.Origin == h.instance {
				continue
			}
			h.deliverLocal(f.Envelope)
		}
	}
}

// Serve upgrades an authenticated request to the signaling socket.
func (h *Hub) Serve(c *gin.Context) {
	log := logger.FromGin(c)

	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("signaling upgrade failed", "user_id", id.UserID, "err", err)
		return
	}

	client := &hubClient{
		conn:   conn,
		send:   make(chan []byte, hubSendBuffer),
		userID: id.UserID,
	}
	h.add(client)
	log.Debug("signaling connected", "user_id", id.UserID)

	go h.writePump(client)
	h.readPump(c.Request.Context(), client)
}

func (h *Hub) add(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Replace existing connection for the same user.
	if old := h.clients[client.userID]; old != nil {
		_ = old.conn.Close()
		old.closeSend()
	}
	h.clients[client.userID] = client
}

func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.userID] == client {
		delete(h.clients, client.userID)
	}
	client.closeSend()
}

func (h *Hub) readPump(ctx context.Context, client *hubClient) {
	defer func() {
		_ = client.conn.Close()
		h.remove(client)
		h.log.Debug("signaling disconnected", "user_id", client.userID)
	}()

	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := wire.Unmarshal(payload, &env); err != nil {
			h.log.Debug("signaling bad json", "user_id", client.userID, "err", err)
			continue
		}
		env.From = client.userID
		if err := h.accept(ctx, env); err != nil {
			h.log.Info("signaling event rejected", "user_id", client.userID, "event", env.Event, "err", err)
			continue
		}
		h.route(ctx, env)
	}
}

// accept authorizes a client-originated envelope and records call participants.
func (h *Hub) accept(ctx context.Context, env Envelope) error {
	if !KnownEvent(env.Event) {
		return ErrUnknownEvent
	}
	if env.Event == EventInvoiceReady {
		return errors.New("invoice_ready is server-originated")
	}
	if env.To == "" || env.To == env.From {
		return errors.New("invalid recipient")
	}
	callID := CallIDOf(env)
	if callID == "" {
		return errors.New("callId required")
	}
	if h.registry == nil {
		return nil
	}

	if env.Event == EventCallRequested {
		var req CallRequested
		if err := env.Decode(&req); err != nil {
			return err
		}
		return h.registry.Register(ctx, Participants{
			CallID:    callID,
			Caller:    env.From,
			Callee:    env.To,
			Kind:      req.Kind,
			CreatedAt: h.now().UTC(),
		})
	}

	p, err := h.registry.Lookup(ctx, callID)
	if err != nil {
		return err
	}
	if other, ok := p.Other(env.From); !ok || other != env.To {
		return errors.New("not a participant")
	}
	if env.Event == EventCallAccepted {
		if env.From != p.Callee {
			return errors.New("only the callee accepts")
		}
		return h.registry.MarkAccepted(ctx, callID, h.now())
	}
	return nil
}

func (h *Hub) route(ctx context.Context, env Envelope) {
	if h.deliverLocal(env) {
		return
	}
	if h.rdb == nil {
		h.log.Debug("signaling recipient offline", "event", env.Event, "to", env.To)
		return
	}
	frame, err := wire.Marshal(relayFrame{Origin: h.instance, Envelope: env})
	if err != nil {
		return
	}
	if err := h.rdb.Publish(ctx, hubRelayChannel, frame).Err(); err != nil {
		h.log.Warn("signaling relay publish failed", "event", env.Event, "err", err)
	}
}

func (h *Hub) deliverLocal(env Envelope) bool {
	h.mu.Lock()
	client := h.clients[env.To]
	h.mu.Unlock()
	if client == nil {
		return false
	}
	frame, err := wire.Marshal(env)
	if err != nil {
		return false
	}
	if !client.trySend(frame) {
		_ = client.conn.Close()
		return false
	}
	return true
}

func (h *Hub) writePump(client *hubClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
