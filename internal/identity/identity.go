// Package identity turns the host and participant identities clients present into
// the plain ids the engine compares, and back into something clients can keep.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken       = errors.New("identity: invalid token")
	ErrExpiredToken       = errors.New("identity: token expired")
	ErrInvalidSigningAlg  = errors.New("identity: unexpected signing method")
	errEmptySigningSecret = errors.New("identity: signing key is empty")
)

// Resolver maps presented credentials to ids and ids to credentials.
type Resolver interface {
	// Resolve returns the id carried by a presented credential. Empty input resolves to "".
	Resolve(presented string) (string, error)
	// Issue returns the credential a client should present for id.
	Issue(id string) (string, error)
}

// Opaque treats the presented string as the id itself.
type Opaque struct{}

func (Opaque) Resolve(presented string) (string, error) {
	return strings.TrimSpace(presented), nil
}

func (Opaque) Issue(id string) (string, error) {
	return id, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Signed wraps ids in HS256 tokens whose subject is the id.
type Signed struct {
	key   []byte
	ttl   time.Duration
	clock clock.Clock
}

func NewSigned(key string, ttl time.Duration, clk clock.Clock) (*Signed, error) {
	if key == "" {
		return nil, errEmptySigningSecret
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Signed{key: []byte(key), ttl: ttl, clock: clk}, nil
}

func (s *Signed) Issue(id string) (string, error) {
	now := s.clock.Now()
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  id,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if s.ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign identity: %w", err)
	}
	return token, nil
}

func (s *Signed) Resolve(presented string) (string, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return "", nil
	}
	token, err := jwt.ParseWithClaims(presented, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningAlg
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpiredToken
		case errors.Is(err, ErrInvalidSigningAlg):
			return "", ErrInvalidSigningAlg
		default:
			return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

// New picks Signed when a key is configured and Opaque otherwise.
func New(signingKey string, ttl time.Duration) (Resolver, error) {
	if signingKey == "" {
		return Opaque{}, nil
	}
	return NewSigned(signingKey, ttl, nil)
}
