// Package token signs and verifies the HS256 session credentials carried in
// the access, admin and setup cookies/links.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role distinguishes the kinds of sessions. It is written into the token as
// both the role claim and the audience, so a token minted for one role never
// verifies as another.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleSetup Role = "setup"
)

const (
	UserSessionTTL  = 90 * 24 * time.Hour
	AdminSessionTTL = 2 * time.Hour
	SetupTokenTTL   = 72 * time.Hour
)

var ErrEmptySecret = errors.New("token: empty signing secret")

// Session is the decoded identity carried by a token.
type Session struct {
	Role      Role
	UserID    string
	Email     string
	AdminID   string
	ClientIP  string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Role     Role   `json:"role"`
	Email    string `json:"email,omitempty"`
	AdminID  string `json:"adminId,omitempty"`
	ClientIP string `json:"ip,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// Codec signs and verifies sessions with a single shared secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec 创建 Codec。secret 为空时返回错误。
func NewCodec(secret string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: []byte(secret), now: time.Now}, nil
}

// WithClock returns a copy of the codec that reads time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// Sign 签发 token，过期时间为 now+ttl。
func (c *Codec) Sign(s Session, ttl time.Duration) (string, error) {
	if s.Role == "" {
		return "", errors.New("token: session role is required")
	}
	if ttl <= 0 {
		return "", errors.New("token: ttl must be positive")
	}
	now := c.now()
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Audience:  jwt.ClaimStrings{string(s.Role)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:     s.Role,
		Email:    s.Email,
		AdminID:  s.AdminID,
		ClientIP: s.ClientIP,
		Nonce:    s.Nonce,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
}

// Verify decodes raw and checks signature, expiry and role. Any failure
// yields (nil, false); callers treat that as unauthenticated.
func (c *Codec) Verify(raw string, role Role) (*Session, bool) {
	raw = strings.TrimSpace(raw)
	if c == nil || raw == "" || role == "" {
		return nil, false
	}

	cl := &claims{}
	tok, err := jwt.ParseWithClaims(raw, cl, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(role)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || tok == nil || !tok.Valid {
		return nil, false
	}
	if cl.Role != role {
		return nil, false
	}

	switch role {
	case RoleUser:
		if cl.Subject == "" {
			return nil, false
		}
	case RoleAdmin:
		if cl.AdminID == "" {
			return nil, false
		}
	case RoleSetup:
		if cl.Subject == "" || cl.Nonce == "" {
			return nil, false
		}
	}

	s := &Session{
		Role:     cl.Role,
		UserID:   cl.Subject,
		Email:    cl.Email,
		AdminID:  cl.AdminID,
		ClientIP: cl.ClientIP,
		Nonce:    cl.Nonce,
	}
	if cl.IssuedAt != nil {
		s.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		s.ExpiresAt = cl.ExpiresAt.Time
	}
	return s, true
}
