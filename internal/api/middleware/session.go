package middleware

import (
	"net/http"

	"housingworkshop/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

const (
	// UserCookie 普通用户会话 cookie 名。
	UserCookie = "access"
	// AdminCookie 管理员会话 cookie 名。
	AdminCookie = "admin"

	sessionKey = "session"
)

// Gate binds a cookie name to the role its token must carry, plus the
// bodies returned when the cookie is missing or does not verify.
type Gate struct {
	Cookie  string
	Role    token.Role
	Missing gin.H
	Invalid gin.H
}

var (
	UserGate = Gate{
		Cookie:  UserCookie,
		Role:    token.RoleUser,
		Missing: gin.H{"success": false, "error": "Not authenticated"},
		Invalid: gin.H{"success": false, "error": "Invalid token"},
	}
	AdminGate = Gate{
		Cookie:  AdminCookie,
		Role:    token.RoleAdmin,
		Missing: gin.H{"error": "Not authenticated"},
		Invalid: gin.H{"error": "Invalid admin token"},
	}
)

// Authenticate 校验 cookie 值，返回会话；缺失或无效都视为未认证。
func Authenticate(codec *token.Codec, cookieValue string, role token.Role) (*token.Session, bool) {
	if cookieValue == "" {
		return nil, false
	}
	return codec.Verify(cookieValue, role)
}

// RequireSession 要求请求携带 gate 对应角色的有效会话，否则返回 401 并中止。
func RequireSession(codec *token.Codec, gate Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(gate.Cookie)
		if err != nil || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gate.Missing)
			return
		}
		sess, ok := Authenticate(codec, raw, gate.Role)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gate.Invalid)
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// OptionalSession 有有效会话时写入上下文，否则匿名继续。
func OptionalSession(codec *token.Codec, gate Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, err := c.Cookie(gate.Cookie); err == nil {
			if sess, ok := Authenticate(codec, raw, gate.Role); ok {
				c.Set(sessionKey, sess)
			}
		}
		c.Next()
	}
}

// SessionFrom 取出上游中间件写入的会话。
func SessionFrom(c *gin.Context) (*token.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*token.Session)
	return sess, ok && sess != nil
}
