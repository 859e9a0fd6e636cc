package actuator

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateMirror wraps a Client and mirrors every successful ChangeRate to
// Redis so operator dashboards can read programmed rate limits without
// locking the controller. The mirror is write-only and best-effort: a mirror
// failure is logged, never propagated, and never read back into the hot
// path, since the actuator itself remains the sole source of truth.
type RedisRateMirror struct {
	Client
	rdb    *redis.Client
	logger *log.Logger
}

// NewRedisRateMirror wraps client, writing rate-limit mirrors to rdb.
func NewRedisRateMirror(client Client, rdb *redis.Client, logger *log.Logger) *RedisRateMirror {
	return &RedisRateMirror{Client: client, rdb: rdb, logger: logger}
}

func mirrorKey(host, ruleName string) string {
	return fmt.Sprintf("lime:rate_limit:%s:%s", host, ruleName)
}

// ChangeRate delegates to the wrapped client, then best-effort mirrors the
// new rate limit to Redis. The stored value is the bare rate; the per-call
// correlation id appears only in the log line of a failed mirror write.
func (m *RedisRateMirror) ChangeRate(ctx context.Context, host, ruleName string, rate int64) error {
	correlationID := uuid.NewString()
	if err := m.Client.ChangeRate(ctx, host, ruleName, rate); err != nil {
		return err
	}
	if m.rdb == nil {
		return nil
	}
	if err := m.rdb.Set(ctx, mirrorKey(host, ruleName), rate, 0).Err(); err != nil {
		if m.logger != nil {
			m.logger.Printf("redis mirror: correlation=%s host=%s rule=%s: %v", correlationID, host, ruleName, err)
		}
	}
	return nil
}
