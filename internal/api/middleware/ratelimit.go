package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"housingworkshop/internal/pkg/metrics"
	"housingworkshop/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// Allow 按 rule 对 key 计数；被拒绝时写入 429 与 Retry-After 并中止请求。
//
// 限流后端出错时放行并记录日志，避免 Redis 故障让整个 API 不可用。
func Allow(c *gin.Context, limiter ratelimit.Limiter, rule ratelimit.Rule, key string, body gin.H, logger *slog.Logger) (ratelimit.Decision, bool) {
	d, err := limiter.Check(c.Request.Context(), key, rule)
	if err != nil {
		if logger != nil {
			logger.Error("rate limit check failed",
				slog.String("rule", rule.Name),
				slog.String("error", err.Error()))
		}
		return ratelimit.Decision{Allowed: true, Remaining: rule.Max}, true
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return d, true
	}

	metrics.RateLimitRejectedTotal.WithLabelValues(rule.Name).Inc()
	c.Header("Retry-After", strconv.Itoa(d.RetryAfter(time.Now())))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
	return d, false
}

// RateLimitByIP 以客户端 IP 为键的路由级限流。
func RateLimitByIP(limiter ratelimit.Limiter, rule ratelimit.Rule, body gin.H, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := Allow(c, limiter, rule, c.ClientIP(), body, logger); !ok {
			return
		}
		c.Next()
	}
}
