package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"certledger/internal/certificate/models"
)

var redisIncrDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "certledger_sequence_redis_incr_duration_ms",
	Help:    "Latency of redis serial allocation in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// Redis key prefix for per-scope serial counters.
const sequenceKeyPrefix = "cert:seq:"

// RedisAllocator allocates serials with INCR, which redis executes atomically.
// Counters are never expired: a month's scope must not restart at 1.
type RedisAllocator struct {
	client redis.Cmdable
}

func NewRedisAllocator(client redis.Cmdable) *RedisAllocator {
	return &RedisAllocator{client: client}
}

// Next increments the scope's counter and returns the new value.
func (a *RedisAllocator) Next(ctx context.Context, scope models.Scope) (int64, error) {
	start := time.Now()
	defer func() {
		redisIncrDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if err := scope.Validate(); err != nil {
		return 0, fmt.Errorf("allocate serial: %w", err)
	}
	value, err := a.client.Incr(ctx, sequenceKeyPrefix+scope.Key()).Result()
	if err != nil {
		return 0, fmt.Errorf("increment sequence %s: %w", scope.Key(), err)
	}
	return value, nil
}
