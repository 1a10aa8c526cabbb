package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the authenticated caller of a request or signaling socket.
// ShopID is set for sellers only.
type Identity struct {
	UserID   string
	Role     string
	ShopID   string
	ShopName string
}

func (id Identity) IsSeller() bool { return id.Role == "seller" && id.ShopID != "" }

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.UserID, err
}

// ShopID returns the seller's shop; buyers get ErrNoIdentity.
func ShopID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	if id.ShopID == "" {
		return "", ErrNoIdentity
	}
	return id.ShopID, nil
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.Role, err
}
