package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"notifyhub/pkg/circuitbreaker"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error
	syntaxErr = json.Unmarshal([]byte("{"), &struct{}{})

	tests := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{name: "nil", err: nil, retryable: false, errType: ""},
		{name: "json", err: fmt.Errorf("decode: %w", syntaxErr), retryable: false, errType: "json_decode_error"},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, retryable: false, errType: "duplicate_key"},
		{name: "pg connection exception", err: &pgconn.PgError{Code: "08006"}, retryable: true, errType: "db_transient_error"},
		{name: "pg serialization failure", err: &pgconn.PgError{Code: "40001"}, retryable: true, errType: "db_transient_error"},
		{name: "pg syntax", err: &pgconn.PgError{Code: "42601"}, retryable: false, errType: "db_error"},
		{name: "deadline", err: fmt.Errorf("insert: %w", context.DeadlineExceeded), retryable: true, errType: "timeout"},
		{name: "canceled", err: context.Canceled, retryable: false, errType: "context_canceled"},
		{name: "sqlite locked", err: errors.New("database is locked (5) (SQLITE_BUSY)"), retryable: true, errType: "db_connection_error"},
		{name: "unknown", err: errors.New("something odd"), retryable: false, errType: "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tt.err)
			assert.Equal(t, tt.retryable, retryable)
			assert.Equal(t, tt.errType, errType)
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(1, 3, true))
	assert.True(t, ShouldRetry(3, 3, true))
	assert.False(t, ShouldRetry(4, 3, true))
	assert.False(t, ShouldRetry(1, 3, false))
}

func TestFormatKeys(t *testing.T) {
	assert.Equal(t, "dedup:notification.create:abc", FormatDedupKey("notification.create", "abc"))
	assert.Equal(t, "retry:notification.create:abc", FormatRetryKey("notification.create", "abc"))
}

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestDeduper_FailsOpenWhenRedisUnavailable(t *testing.T) {
	rdb := unreachableRedis()
	defer rdb.Close()

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Hour,
		HalfOpenMaxRequests: 1,
	})
	d := NewDeduper(rdb, time.Minute, breaker, nil)
	ctx := context.Background()

	assert.True(t, d.AcquireOnce(ctx, "h", "1"))
	assert.True(t, d.AcquireOnce(ctx, "h", "1"))
	assert.Equal(t, circuitbreaker.StateOpen, breaker.GetState())

	// 熔断打开后不再访问 Redis，仍然放行
	assert.True(t, d.AcquireOnce(ctx, "h", "1"))
	assert.NotPanics(t, func() { d.Release(ctx, "h", "1") })
}
