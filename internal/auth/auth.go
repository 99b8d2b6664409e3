// Package auth issues and verifies bearer access tokens and resolves them to users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/store"
)

const tokenTypeAccess = "access"

var (
	// ErrInvalidCredential wraps every reason a token is refused.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrTokenExpired is additionally matched by expired tokens.
	ErrTokenExpired = errors.New("Token has expired")
)

// UserLookup is the part of the store the resolver needs.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
}

// Claims is the access token body. Subject holds the user's email.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Resolver verifies HMAC-signed access tokens.
type Resolver struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

// New builds a resolver from the [auth] config section.
func New(cfg config.Auth, users UserLookup) (*Resolver, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is empty")
	}
	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("auth: unsupported algorithm %q", cfg.Algorithm)
	}
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Resolver{secret: []byte(cfg.Secret), method: method, ttl: ttl, users: users, now: time.Now}, nil
}

// Issue signs an access token for email. A zero ttl uses the configured lifetime.
func (r *Resolver) Issue(email string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	now := r.now()
	exp := now.Add(ttl)
	claims := Claims{
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(r.method, claims).SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, expiry and token type.
func (r *Resolver) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidCredential)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return r.secret, nil },
		jwt.WithValidMethods([]string{r.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, ErrTokenExpired)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: Invalid token: %v", ErrInvalidCredential, err)
	}
	if claims.Type != tokenTypeAccess {
		return nil, fmt.Errorf("%w: Invalid token type", ErrInvalidCredential)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}
	return claims, nil
}

// Authenticate resolves token to an active user.
func (r *Resolver) Authenticate(ctx context.Context, token string) (*store.User, error) {
	claims, err := r.Verify(token)
	if err != nil {
		return nil, err
	}
	u, err := r.users.GetUserByEmail(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: inactive user", ErrInvalidCredential)
	}
	return u, nil
}

// Resolve returns the user ID a token belongs to.
func (r *Resolver) Resolve(ctx context.Context, token string) (int64, error) {
	u, err := r.Authenticate(ctx, token)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}
