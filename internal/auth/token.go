// Package auth registers and signs in users and issues the bearer tokens the
// HTTP layer turns into a domain.Actor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer          = "community-sacco"
	DefaultTokenTTL = 12 * time.Hour
)

// Claims is the token payload.
type Claims struct {
	UserID  string `json:"user_id"`
	IsStaff bool   `json:"is_staff"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HMAC-signed JWTs.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer. The secret must not be empty.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for user and returns it with its expiry.
func (t *Tokens) Issue(user *domain.User) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		UserID:  user.ID,
		IsStaff: user.IsStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("Issue: sign: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a token and returns the actor it identifies.
func (t *Tokens) Verify(token string) (domain.Actor, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return domain.Actor{}, &domain.AuthenticationError{Reason: "invalid or expired token"}
	}
	if claims.UserID == "" {
		return domain.Actor{}, &domain.AuthenticationError{Reason: "token carries no user"}
	}
	return domain.Actor{UserID: claims.UserID, IsAdmin: claims.IsStaff}, nil
}

type actorKey struct{}

// WithActor stores the authenticated actor in ctx.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, or the anonymous actor.
func ActorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}
