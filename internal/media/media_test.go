package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"marketcall/internal/calls"
	"marketcall/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/livekit"
)

type nopListener struct {
	mu     sync.Mutex
	joined []string
}

func (l *nopListener) OnRemoteJoined(uid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joined = append(l.joined, uid)
}
func (l *nopListener) OnRemoteLeft(string)  {}
func (l *nopListener) OnEngineError(error) {}

var validCfg = calls.MediaConfig{ChannelName: "call-c1", Token: "tok", LocalUID: "buyer-1", Endpoint: "wss://media.example.com"}

func TestEngines_ImplementEngine(t *testing.T) {
	var _ Engine = (*NoopEngine)(nil)
	var _ Engine = (*LiveKitEngine)(nil)
}

func TestNoopEngine_ReleaseCountedOncePerSession(t *testing.T) {
	e := NewNoopEngine()
	s, err := e.Initialize(context.Background(), validCfg, &nopListener{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := s.Join(context.Background(), JoinOptions{Role: calls.RoleBuyer, Kind: calls.KindVideo}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.SetMuted(true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.Release(); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased on second release, got %v", err)
	}
	if err := s.SetMuted(false); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased after release, got %v", err)
	}
	if e.Releases() != 2 {
		t.Fatalf("expected both calls recorded, got %d", e.Releases())
	}
}

func TestNoopEngine_InjectedFailures(t *testing.T) {
	e := NewNoopEngine()
	if _, err := e.Initialize(context.Background(), calls.MediaConfig{}, &nopListener{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	e.InitErr = errors.New("boom")
	if _, err := e.Initialize(context.Background(), validCfg, &nopListener{}); err == nil {
		t.Fatalf("expected init error")
	}
	e.InitErr = nil
	e.JoinErr = errors.New("no route")
	s, _ := e.Initialize(context.Background(), validCfg, &nopListener{})
	if err := s.Join(context.Background(), JoinOptions{}); err == nil {
		t.Fatalf("expected join error")
	}
	if err := s.SetCameraEnabled(true); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestDefaultControls(t *testing.T) {
	if DefaultControls(calls.RoleBuyer, calls.KindVideo).CameraEnabled {
		t.Fatalf("buyer must join with camera off")
	}
	if !DefaultControls(calls.RoleSeller, calls.KindVideo).CameraEnabled {
		t.Fatalf("seller must join with camera on")
	}
	if DefaultControls(calls.RoleSeller, calls.KindVoice).CameraEnabled {
		t.Fatalf("voice calls never enable camera")
	}
}

func TestLiveKitEngine_RejectsMissingEndpoint(t *testing.T) {
	e := &LiveKitEngine{}
	cfg := validCfg
	cfg.Endpoint = ""
	if _, err := e.Initialize(context.Background(), cfg, &nopListener{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	s, err := e.Initialize(context.Background(), validCfg, &nopListener{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := s.SetMuted(true); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined before join, got %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

type fakeRooms struct {
	reqs []*livekit.CreateRoomRequest
}

func (f *fakeRooms) CreateRoom(_ context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	f.reqs = append(f.reqs, req)
	return &livekit.Room{Name: req.Name}, nil
}

func TestTokenIssuer_ForCall(t *testing.T) {
	iss, err := NewTokenIssuer(config.MediaConfig{URL: "wss://media.example.com", APIKey: "key", APISecret: "secret-secret-secret-secret-secret", AppID: "app"})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	rooms := &fakeRooms{}
	iss.WithProvisioner(rooms)

	local, remote, err := iss.ForCall(context.Background(), "c1", "seller-1", "buyer-1")
	if err != nil {
		t.Fatalf("for call: %v", err)
	}
	if local.ChannelName != "call-c1" || remote.ChannelName != "call-c1" {
		t.Fatalf("unexpected channels: %q %q", local.ChannelName, remote.ChannelName)
	}
	if local.LocalUID != "seller-1" || remote.LocalUID != "buyer-1" || local.AppID != "app" {
		t.Fatalf("unexpected configs: %+v %+v", local, remote)
	}
	if len(rooms.reqs) != 1 || rooms.reqs[0].MaxParticipants != 2 {
		t.Fatalf("expected one two-party room, got %+v", rooms.reqs)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(remote.Token, claims, func(*jwt.Token) (any, error) {
		return []byte("secret-secret-secret-secret-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims["sub"] != "buyer-1" || claims["iss"] != "key" {
		t.Fatalf("unexpected token claims: %v", claims)
	}
}

func TestTokenIssuer_RequiresParticipants(t *testing.T) {
	iss, _ := NewTokenIssuer(config.MediaConfig{URL: "wss://m", APIKey: "k", APISecret: "s"})
	if _, _, err := iss.ForCall(context.Background(), "c1", "", "b"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
