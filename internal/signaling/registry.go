package signaling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"marketcall/internal/calls"

	"github.com/redis/go-redis/v9"
)

// Participants records who is on which end of a call, as observed by the relay.
type Participants struct {
	CallID    string
	Caller    string
	Callee    string
	Kind      calls.Kind
	CreatedAt time.Time
	// AcceptedAt is set once the callee's call_accepted passed through the relay.
	AcceptedAt *time.Time
}

// Answered reports whether the callee accepted the call.
func (p Participants) Answered() bool { return p.AcceptedAt != nil }

func (p Participants) Has(userID string) bool {
	return userID != "" && (userID == p.Caller || userID == p.Callee)
}

// Other returns the counterpart of userID.
func (p Participants) Other(userID string) (string, bool) {
	switch userID {
	case p.Caller:
		return p.Callee, true
	case p.Callee:
		return p.Caller, true
	default:
		return "", false
	}
}

var (
	ErrCallNotFound = errors.New("signaling: call not found")
	ErrCallConflict = errors.New("signaling: call id already registered to other participants")
)

// Registry stores call participants for authorization of later call-scoped requests.
type Registry interface {
	Register(ctx context.Context, p Participants) error
	Lookup(ctx context.Context, callID string) (Participants, error)
	// MarkAccepted records the first acceptance of a registered call.
	MarkAccepted(ctx context.Context, callID string, at time.Time) error
}

const DefaultRegistryTTL = 24 * time.Hour

// RedisRegistry keeps participants in a hash per call so any API instance can resolve them.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

var registerScript = redis.NewScript(`
-- KEYS[1] = call hash key
-- ARGV = caller, callee, kind, created_at_unix_ms, ttl_ms
-- Returns 1 when created, 0 when the key already existed.
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'caller', ARGV[1], 'callee', ARGV[2], 'kind', ARGV[3], 'created_at', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

func callKey(callID string) string { return "call:" + callID }

func (r *RedisRegistry) Register(ctx context.Context, p Participants) error {
	if p.CallID == "" || p.Caller == "" || p.Callee == "" {
		return fmt.Errorf("signaling: register: incomplete participants")
	}
	created, err := registerScript.Run(ctx, r.rdb, []string{callKey(p.CallID)},
		p.Caller, p.Callee, string(p.Kind), p.CreatedAt.UnixMilli(), r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("signaling: register %s: %w", p.CallID, err)
	}
	if created == 1 {
		return nil
	}
	existing, err := r.Lookup(ctx, p.CallID)
	if err != nil {
		return err
	}
	if existing.Caller != p.Caller || existing.Callee != p.Callee {
		return ErrCallConflict
	}
	return nil
}

var acceptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSETNX', KEYS[1], 'accepted_at', ARGV[1])
return 1
`)

func (r *RedisRegistry) MarkAccepted(ctx context.Context, callID string, at time.Time) error {
	found, err := acceptScript.Run(ctx, r.rdb, []string{callKey(callID)}, at.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("signaling: accept %s: %w", callID, err)
	}
	if found == 0 {
		return ErrCallNotFound
	}
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, callID string) (Participants, error) {
	vals, err := r.rdb.HGetAll(ctx, callKey(callID)).Result()
	if err != nil {
		return Participants{}, fmt.Errorf("signaling: lookup %s: %w", callID, err)
	}
	if len(vals) == 0 {
		return Participants{}, ErrCallNotFound
	}
	p := Participants{
		CallID: callID,
		Caller: vals["caller"],
		Callee: vals["callee"],
		Kind:   calls.Kind(vals["kind"]),
	}
	if t, ok := unixMilli(vals["created_at"]); ok {
		p.CreatedAt = t
	}
	if t, ok := unixMilli(vals["accepted_at"]); ok {
		p.AcceptedAt = &t
	}
	return p, nil
}

func unixMilli(v string) (time.Time, bool) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// MemoryRegistry is a process-local Registry for tests and single-instance runs.
type MemoryRegistry struct {
	mu    sync.Mutex
	calls map[string]Participants
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{calls: make(map[string]Participants)}
}

func (r *MemoryRegistry) Register(_ context.Context, p Participants) error {
	if p.CallID == "" || p.Caller == "" || p.Callee == "" {
		return fmt.Errorf("signaling: register: incomplete participants")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.calls[p.CallID]; ok {
		if existing.Caller != p.Caller || existing.Callee != p.Callee {
			return ErrCallConflict
		}
		return nil
	}
	r.calls[p.CallID] = p
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, callID string) (Participants, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.calls[callID]
	if !ok {
		return Participants{}, ErrCallNotFound
	}
	return p, nil
}

func (r *MemoryRegistry) MarkAccepted(_ context.Context, callID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	if p.AcceptedAt == nil {
		at = at.UTC()
		p.AcceptedAt = &at
		r.calls[callID] = p
	}
	return nil
}
