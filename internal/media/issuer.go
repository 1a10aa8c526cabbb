package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketcall/internal/calls"
	"marketcall/internal/config"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
)

// RoomProvisioner is the slice of the LiveKit room service the issuer needs.
type RoomProvisioner interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
}

// TokenIssuer mints per-participant media configs for a call on the API side.
type TokenIssuer struct {
	url          string
	apiKey       string
	apiSecret    string
	appID        string
	ttl          time.Duration
	emptyTimeout time.Duration
	rooms        RoomProvisioner
}

func NewTokenIssuer(cfg config.MediaConfig) (*TokenIssuer, error) {
	if cfg.URL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("media: livekit url, key and secret are required")
	}
	i := &TokenIssuer{
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		appID:        cfg.AppID,
		ttl:          cfg.TokenTTL,
		emptyTimeout: cfg.EmptyTimeout,
	}
	if i.ttl <= 0 {
		i.ttl = 2 * time.Hour
	}
	if cfg.ProvisionRooms {
		i.rooms = lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret)
	}
	return i, nil
}

// WithProvisioner replaces the room service, mainly for tests.
func (i *TokenIssuer) WithProvisioner(p RoomProvisioner) *TokenIssuer {
	i.rooms = p
	return i
}

// ChannelName is the room a call's media runs in.
func ChannelName(callID string) string { return "call-" + callID }

// ForCall returns the media configs for both ends of callID.
func (i *TokenIssuer) ForCall(ctx context.Context, callID, localUID, remoteUID string) (local, remote calls.MediaConfig, err error) {
	if callID == "" || localUID == "" || remoteUID == "" {
		return calls.MediaConfig{}, calls.MediaConfig{}, ErrInvalidConfig
	}
	room := ChannelName(callID)

	if i.rooms != nil {
		_, err := i.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
			Name:            room,
			EmptyTimeout:    uint32(i.emptyTimeout / time.Second),
			MaxParticipants: 2,
		})
		if err != nil {
			return calls.MediaConfig{}, calls.MediaConfig{}, fmt.Errorf("media: provision room %s: %w", room, err)
		}
	}

	if local, err = i.config(room, localUID); err != nil {
		return calls.MediaConfig{}, calls.MediaConfig{}, err
	}
	if remote, err = i.config(room, remoteUID); err != nil {
		return calls.MediaConfig{}, calls.MediaConfig{}, err
	}
	return local, remote, nil
}

func (i *TokenIssuer) config(room, uid string) (calls.MediaConfig, error) {
	grant := &auth.VideoGrant{
		Room:     room,
		RoomJoin: true,
	}
	tk := auth.NewAccessToken(i.apiKey, i.apiSecret)
	tk.AddGrant(grant).SetIdentity(uid).SetValidFor(i.ttl)

	token, err := tk.ToJWT()
	if err != nil {
		return calls.MediaConfig{}, fmt.Errorf("media: sign token: %w", err)
	}
	return calls.MediaConfig{
		ChannelName: room,
		Token:       token,
		LocalUID:    uid,
		AppID:       i.appID,
		Endpoint:    i.url,
	}, nil
}
