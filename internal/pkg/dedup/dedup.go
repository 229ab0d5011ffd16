package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "housingworkshop:dedup:"

// Window suppresses repeated actions on the same key for a fixed TTL, e.g.
// re-sending the access email when someone submits the signup form twice.
// A nil Window or one without a Redis client never suppresses anything.
type Window struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewWindow(rdb *redis.Client, namespace string, ttl time.Duration) *Window {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Window{
		rdb:    rdb,
		prefix: defaultPrefix + namespace + ":",
		ttl:    ttl,
	}
}

// Seen 首次出现返回 false 并开始计时；窗口内再次出现返回 true。
func (w *Window) Seen(ctx context.Context, key string) (bool, error) {
	if w == nil || w.rdb == nil || key == "" {
		return false, nil
	}
	ok, err := w.rdb.SetNX(ctx, w.key(key), "1", w.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Forget 提前结束窗口（动作失败后允许重试）。
func (w *Window) Forget(ctx context.Context, key string) error {
	if w == nil || w.rdb == nil || key == "" {
		return nil
	}
	if err := w.rdb.Del(ctx, w.key(key)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

// key 对原始值做哈希，避免邮箱等明文出现在 Redis 中。
func (w *Window) key(raw string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(raw))))
	return w.prefix + hex.EncodeToString(sum[:])
}
