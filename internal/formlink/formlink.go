// Package formlink issues and verifies the signed links that open the
// review submission form.
package formlink

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing form token")
	ErrInvalidToken = errors.New("invalid or expired form token")
	ErrMissingRoom  = errors.New("form token has no room")
)

// Claims identify who opened the form and where the review is posted
type Claims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// Author returns the user the link was issued to
func (c *Claims) Author() string { return c.Subject }

// Signer issues and verifies form tokens with a shared HS256 secret
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. A nil now uses time.Now.
func NewSigner(secret string, ttl time.Duration, now func() time.Time) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("form secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("form link ttl must be positive, got %s", ttl)
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: now}, nil
}

// Issue returns a token for author in room
func (s *Signer) Issue(author, room string) (string, error) {
	now := s.now()
	claims := Claims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   author,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign form token: %w", err)
	}
	return token, nil
}

// Link returns baseURL + "review_form?token=..." for author in room
func (s *Signer) Link(baseURL, author, room string) (string, error) {
	token, err := s.Issue(author, room)
	if err != nil {
		return "", err
	}
	return baseURL + "review_form?token=" + url.QueryEscape(token), nil
}

// Verify checks the signature and expiry of token and returns its claims
func (s *Signer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	if claims.Room == "" {
		return nil, ErrMissingRoom
	}
	return claims, nil
}
