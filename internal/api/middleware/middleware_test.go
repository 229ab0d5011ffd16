package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"housingworkshop/internal/pkg/ratelimit"
	"housingworkshop/internal/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

func newCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec(testSecret)
	require.NoError(t, err)
	return c
}

func sign(t *testing.T, c *token.Codec, s token.Session, ttl time.Duration) string {
	t.Helper()
	raw, err := c.Sign(s, ttl)
	require.NoError(t, err)
	return raw
}

func protectedRouter(codec *token.Codec, gate Gate) *gin.Engine {
	r := gin.New()
	r.GET("/p", RequireSession(codec, gate), func(c *gin.Context) {
		sess, ok := SessionFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": sess.UserID, "admin": sess.AdminID})
	})
	return r
}

func doGet(r http.Handler, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireSession_AdminGate(t *testing.T) {
	codec := newCodec(t)
	r := protectedRouter(codec, AdminGate)

	w := doGet(r, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Not authenticated"}`, w.Body.String())

	w = doGet(r, &http.Cookie{Name: AdminCookie, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Invalid admin token"}`, w.Body.String())

	// 普通用户令牌放进 admin cookie 也必须拒绝
	userTok := sign(t, codec, token.Session{Role: token.RoleUser, UserID: "u1", Email: "a@x.com"}, time.Hour)
	w = doGet(r, &http.Cookie{Name: AdminCookie, Value: userTok})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	adminTok := sign(t, codec, token.Session{Role: token.RoleAdmin, AdminID: "admin"}, time.Hour)
	w = doGet(r, &http.Cookie{Name: AdminCookie, Value: adminTok})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"admin":"admin"`)
}

func TestRequireSession_UserGate(t *testing.T) {
	codec := newCodec(t)
	r := protectedRouter(codec, UserGate)

	w := doGet(r, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Not authenticated"}`, w.Body.String())

	adminTok := sign(t, codec, token.Session{Role: token.RoleAdmin, AdminID: "admin"}, time.Hour)
	w = doGet(r, &http.Cookie{Name: UserCookie, Value: adminTok})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Invalid token"}`, w.Body.String())

	userTok := sign(t, codec, token.Session{Role: token.RoleUser, UserID: "u1"}, time.Hour)
	w = doGet(r, &http.Cookie{Name: UserCookie, Value: userTok})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"u1"`)
}

func TestRequireSession_ExpiredToken(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	issuer := newCodec(t).WithClock(func() time.Time { return past })
	tok := sign(t, issuer, token.Session{Role: token.RoleUser, UserID: "u1"}, time.Hour)

	w := doGet(protectedRouter(newCodec(t), UserGate), &http.Cookie{Name: UserCookie, Value: tok})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalSession(t *testing.T) {
	codec := newCodec(t)
	r := gin.New()
	r.GET("/p", OptionalSession(codec, UserGate), func(c *gin.Context) {
		_, ok := SessionFrom(c)
		c.JSON(http.StatusOK, gin.H{"authed": ok})
	})

	w := doGet(r, nil)
	assert.JSONEq(t, `{"authed":false}`, w.Body.String())

	w = doGet(r, &http.Cookie{Name: UserCookie, Value: "bad"})
	assert.JSONEq(t, `{"authed":false}`, w.Body.String())

	tok := sign(t, codec, token.Session{Role: token.RoleUser, UserID: "u1"}, time.Hour)
	w = doGet(r, &http.Cookie{Name: UserCookie, Value: tok})
	assert.JSONEq(t, `{"authed":true}`, w.Body.String())
}

func TestRateLimitByIP_RejectsWithRetryAfter(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(nil)
	rule := ratelimit.Rule{Name: "t", Max: 2, Window: time.Minute, Block: 5 * time.Minute}

	r := gin.New()
	r.GET("/p", RateLimitByIP(limiter, rule, gin.H{"success": false, "message": "Too many requests"}, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := doGet(r, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	w := doGet(r, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "300", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"message":"Too many requests"}`, w.Body.String())
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, ratelimit.Rule) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimitByIP_FailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/p", RateLimitByIP(failingLimiter{}, ratelimit.APIRule, gin.H{}, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, doGet(r, nil).Code)
}

func TestSecurityHeadersAndAgentBlock(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(), BlockSuspiciousAgents(), RequestLogger(nil))
	r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	for _, ua := range []string{"curl/8.0", "Googlebot/2.1", "python-scraper", "Wget/1.21"} {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.Header.Set("User-Agent", ua)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code, ua)
	}
}
