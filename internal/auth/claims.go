package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the one token shape minted by Manager. Access and refresh tokens
// differ only in TokenType and lifetime.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ShopID    string    `json:"shop_id,omitempty"`
	ShopName  string    `json:"shop_name,omitempty"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role, ShopID: c.ShopID, ShopName: c.ShopName}
}
