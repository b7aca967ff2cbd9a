package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/pkg/circuitbreaker"
)

type Deduper struct {
	rdb     *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Deduper {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:     rdb,
		ttl:     ttl,
		breaker: breaker,
		logger:  logger,
	}
}

// FormatDedupKey dedup:<handler>:<key>
func FormatDedupKey(handler, key string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, key)
}

// AcquireOnce 第一次处理返回 true，重复返回 false。
// Redis 不可用或熔断打开时放行（返回 true）。
func (d *Deduper) AcquireOnce(ctx context.Context, handler, key string) bool {
	dedupKey := FormatDedupKey(handler, key)

	var acquired bool
	err := d.breaker.Execute(func() error {
		ok, err := d.rdb.SetNX(ctx, dedupKey, 1, d.ttl).Result()
		acquired = ok
		return err
	})
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.String("breaker_state", d.breaker.GetState().String()),
			zap.Error(err),
		)
		return true
	}

	if !acquired {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("dedup_key", dedupKey),
		)
	}
	return acquired
}

// Release 处理失败需要重试时释放去重标记
func (d *Deduper) Release(ctx context.Context, handler, key string) {
	err := d.breaker.Execute(func() error {
		return d.rdb.Del(ctx, FormatDedupKey(handler, key)).Err()
	})
	if err != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
