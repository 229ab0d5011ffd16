package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrInvalidRule = errors.New("ratelimit: invalid rule")

// Rule describes one limit: at most Max requests per Window for a key. When
// Block is positive, a key that exceeds the limit stays rejected for Block.
type Rule struct {
	Name   string
	Max    int
	Window time.Duration
	Block  time.Duration
}

// Validate checks the rule parameters.
func (r Rule) Validate() error {
	if r.Name == "" || r.Max <= 0 || r.Window <= 0 || r.Block < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidRule, r)
	}
	return nil
}

func (r Rule) key(k string) string {
	return r.Name + ":" + k
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole number of seconds (at least 1) a rejected
// caller should wait, measured from now.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter decides whether a request identified by key may proceed under rule.
type Limiter interface {
	Check(ctx context.Context, key string, rule Rule) (Decision, error)
}

// 预置规则，数值沿用线上配置。
var (
	APIRule           = Rule{Name: "api", Max: 100, Window: time.Minute}
	SignupIPRule      = Rule{Name: "signup-ip", Max: 3, Window: time.Minute, Block: 5 * time.Minute}
	SignupEmailRule   = Rule{Name: "signup-email", Max: 2, Window: time.Minute, Block: 10 * time.Minute}
	LoginRule         = Rule{Name: "login", Max: 5, Window: time.Minute, Block: 15 * time.Minute}
	PasswordRule      = Rule{Name: "password-update", Max: 3, Window: time.Minute, Block: 10 * time.Minute}
	SetupPasswordRule = Rule{Name: "password-setup", Max: 5, Window: time.Minute, Block: 10 * time.Minute}
	AdminLoginRule    = Rule{Name: "admin-login", Max: 3, Window: time.Minute, Block: 30 * time.Minute}
)

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
