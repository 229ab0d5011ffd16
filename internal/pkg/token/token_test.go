package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestCodec(t *testing.T, secret string, now time.Time) *Codec {
	t.Helper()
	c, err := NewCodec(secret)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c.WithClock(fixedClock(now))
}

func TestSignVerify_UserSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, testSecret, now)

	raw, err := c.Sign(Session{Role: RoleUser, UserID: "u-1", Email: "jane@x.com"}, UserSessionTTL)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	s, ok := c.Verify(raw, RoleUser)
	if !ok {
		t.Fatalf("expected token to verify")
	}
	if s.UserID != "u-1" || s.Email != "jane@x.com" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if !s.ExpiresAt.Equal(now.Add(UserSessionTTL)) {
		t.Fatalf("expires at %v, want %v", s.ExpiresAt, now.Add(UserSessionTTL))
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := newTestCodec(t, testSecret, issued)
	raw, err := signer.Sign(Session{Role: RoleAdmin, AdminID: "admin"}, AdminSessionTTL)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	before := signer.WithClock(fixedClock(issued.Add(AdminSessionTTL - time.Minute)))
	if _, ok := before.Verify(raw, RoleAdmin); !ok {
		t.Fatalf("expected token to verify before expiry")
	}

	after := signer.WithClock(fixedClock(issued.Add(AdminSessionTTL + time.Second)))
	if s, ok := after.Verify(raw, RoleAdmin); ok || s != nil {
		t.Fatalf("expected expired token to be rejected, got %+v", s)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := newTestCodec(t, testSecret, now)
	b := newTestCodec(t, strings.Repeat("z", 32), now)

	raw, err := a.Sign(Session{Role: RoleUser, UserID: "u-2"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, ok := b.Verify(raw, RoleUser); ok {
		t.Fatalf("expected signature mismatch to be rejected")
	}
}

func TestVerify_RoleMismatch(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t, testSecret, time.Now())
	userTok, err := c.Sign(Session{Role: RoleUser, UserID: "u-3"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	adminTok, err := c.Sign(Session{Role: RoleAdmin, AdminID: "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, ok := c.Verify(userTok, RoleAdmin); ok {
		t.Fatalf("user token accepted as admin")
	}
	if _, ok := c.Verify(adminTok, RoleUser); ok {
		t.Fatalf("admin token accepted as user")
	}
	if _, ok := c.Verify(userTok, RoleSetup); ok {
		t.Fatalf("user token accepted as setup")
	}
}

func TestVerify_MalformedInput(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t, testSecret, time.Now())
	for _, raw := range []string{"", "   ", "not.a.jwt", "a.b", "eyJhbGciOiJub25lIn0.e30."} {
		if s, ok := c.Verify(raw, RoleUser); ok || s != nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t, testSecret, time.Now())
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-4",
			Audience:  jwt.ClaimStrings{string(RoleUser)},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleUser,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, cl).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}
	if _, ok := c.Verify(raw, RoleUser); ok {
		t.Fatalf("expected HS512 token to be rejected")
	}
}

func TestSign_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewCodec(" "); err != ErrEmptySecret {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
	c := newTestCodec(t, testSecret, time.Now())
	if _, err := c.Sign(Session{UserID: "x"}, time.Hour); err == nil {
		t.Fatalf("expected error for missing role")
	}
	if _, err := c.Sign(Session{Role: RoleUser, UserID: "x"}, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestVerify_SetupTokenRequiresNonce(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t, testSecret, time.Now())
	raw, err := c.Sign(Session{Role: RoleSetup, UserID: "u-5"}, SetupTokenTTL)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, ok := c.Verify(raw, RoleSetup); ok {
		t.Fatalf("setup token without nonce accepted")
	}

	raw, err = c.Sign(Session{Role: RoleSetup, UserID: "u-5", Nonce: "n-1"}, SetupTokenTTL)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s, ok := c.Verify(raw, RoleSetup)
	if !ok || s.Nonce != "n-1" {
		t.Fatalf("expected setup token to verify, got %+v", s)
	}
}
