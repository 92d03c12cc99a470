// Package auth issues and verifies bearer tokens and manages accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var (
	// ErrUnauthorized covers missing, malformed, expired and mismatched credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidInput rejects malformed signup or login payloads.
	ErrInvalidInput = errors.New("invalid input")
)

const defaultTokenTTL = 24 * time.Hour

// TokenConfig configures HS256 token signing.
type TokenConfig struct {
	SecretKey string
	TTL       time.Duration
	Issuer    string
}

// Tokens signs and verifies access tokens whose subject is the user ID.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokens validates cfg.
func NewTokens(cfg TokenConfig) (*Tokens, error) {
	if len(cfg.SecretKey) < 16 {
		return nil, errors.New("auth: secret key must be at least 16 bytes")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "boltflow"
	}
	return &Tokens{secret: []byte(cfg.SecretKey), ttl: cfg.TTL, issuer: cfg.Issuer, now: time.Now}, nil
}

// Issue returns a signed token for userID.
func (t *Tokens) Issue(userID uuid.UUID) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies raw and returns the caller's user ID.
func (t *Tokens) Resolve(raw string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !claims.VerifyIssuer(t.issuer, true) {
		return uuid.Nil, fmt.Errorf("%w: wrong issuer", ErrUnauthorized)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrUnauthorized)
	}
	return id, nil
}

type ctxKey struct{}

// WithUser stores the authenticated user ID on ctx.
func WithUser(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFrom returns the authenticated user ID, if any.
func UserFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
