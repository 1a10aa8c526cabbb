package auth

import (
	"errors"
	"fmt"
	"time"

	"marketcall/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrWrongTokenType = errors.New("auth: wrong token type")
	ErrIncomplete     = errors.New("auth: token identity incomplete")
)

// clockSkew is tolerated between the API instances and devices minting or checking tokens.
const clockSkew = 30 * time.Second

// Manager signs and verifies HS256 tokens for the REST API and the signaling socket.
type Manager struct {
	secret     []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	parseOpts  []jwt.ParserOption
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth: JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("auth: token ttls must be positive")
	}
	m := &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		parseOpts: []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(clockSkew),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
		},
	}
	if cfg.JWTIssuer != "" {
		m.parseOpts = append(m.parseOpts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWTAudience != "" {
		m.audience = jwt.ClaimStrings{cfg.JWTAudience}
		m.parseOpts = append(m.parseOpts, jwt.WithAudience(cfg.JWTAudience))
	}
	return m, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssuePair mints an access and a refresh token for id. Both carry the full
// identity so a refresh can re-issue the seller's shop scope.
func (m *Manager) IssuePair(now time.Time, id Identity) (TokenPair, error) {
	if err := checkIdentity(id); err != nil {
		return TokenPair{}, err
	}
	var pair TokenPair
	var err error
	if pair.AccessToken, err = m.sign(now, TokenTypeAccess, id, m.accessTTL); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = m.sign(now, TokenTypeRefresh, id, m.refreshTTL); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Verify parses tokenString as of now and checks it is of the expected type.
func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims
	opts := append([]jwt.ParserOption{jwt.WithTimeFunc(func() time.Time { return now })}, m.parseOpts...)
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("auth: %w", err)
	}
	if claims.TokenType != expected {
		return Claims{}, ErrWrongTokenType
	}
	if err := checkIdentity(claims.Identity()); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// checkIdentity enforces that every token names a user and role, and that sellers carry their shop.
func checkIdentity(id Identity) error {
	switch {
	case id.UserID == "":
		return fmt.Errorf("%w: user_id missing", ErrIncomplete)
	case id.Role == "":
		return fmt.Errorf("%w: role missing", ErrIncomplete)
	case id.Role == "seller" && id.ShopID == "":
		return fmt.Errorf("%w: seller without shop_id", ErrIncomplete)
	}
	return nil
}

func (m *Manager) sign(now time.Time, typ TokenType, id Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			Issuer:    m.issuer,
			Audience:  m.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    id.UserID,
		Role:      id.Role,
		ShopID:    id.ShopID,
		ShopName:  id.ShopName,
		TokenType: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
