// Package token issues and validates the per-session handoff bearer token and
// verifies user data signed by the embedding site.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/soyeahso/handoff/internal/domain"
)

var (
	// ErrInvalidToken covers malformed, forged and expired handoff tokens.
	ErrInvalidToken = errors.New("invalid handoff token")
	// ErrSessionEnded is returned for a well-formed token whose session was
	// released through passControl.
	ErrSessionEnded = errors.New("handoff session ended")
	// ErrInvalidUserData is returned when signed user data fails verification.
	ErrInvalidUserData = errors.New("invalid signed user data")
)

const issuer = "handoff"

// VendorSession holds what the relay needs to reach the vendor-side session.
// Fields are set per platform.
type VendorSession struct {
	// Salesforce LiveAgent
	SessionKey    string `json:"sk,omitempty"`
	AffinityToken string `json:"aff,omitempty"`
	// Salesforce Messaging
	AccessToken string `json:"at,omitempty"`
	// Zendesk
	UserID string `json:"uid,omitempty"`
	// Front
	Handle string `json:"hdl,omitempty"`
	Name   string `json:"nm,omitempty"`
}

// Claims is the payload of a handoff token. The token ID is the session ID.
type Claims struct {
	jwt.RegisteredClaims
	AgentID        string             `json:"agt"`
	OrganizationID string             `json:"org"`
	Vendor         domain.HandoffType `json:"vnd"`
	ConversationID string             `json:"cnv,omitempty"`
	Session        VendorSession      `json:"ses"`
}

// SessionID returns the handoff session the token grants access to.
func (c *Claims) SessionID() string { return c.ID }

// Issuer signs and validates handoff tokens with one HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. The secret must be non-empty.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs claims. A missing session ID is generated.
func (i *Issuer) Issue(c Claims) (string, error) {
	now := i.now()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Issuer = issuer
	c.Subject = c.AgentID
	c.IssuedAt = jwt.NewNumericDate(now)
	if i.ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign handoff token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and checks its signature and expiry.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.ID == "" || !claims.Vendor.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
