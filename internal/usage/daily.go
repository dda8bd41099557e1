// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dailyKeyPrefix = "usage:anon:daily:"
	dailyKeyTTL    = 90 * 24 * time.Hour
)

func dailyKey(day time.Time) string {
	return dailyKeyPrefix + day.Format(time.DateOnly)
}

// RedisDailyAggregate keeps one counter key per date.
type RedisDailyAggregate struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisDailyAggregate(client redis.UniversalClient) *RedisDailyAggregate {
	return &RedisDailyAggregate{client: client, ttl: dailyKeyTTL}
}

func (r *RedisDailyAggregate) Increment(ctx context.Context, day time.Time) (int64, error) {
	key := dailyKey(day)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (r *RedisDailyAggregate) Get(ctx context.Context, day time.Time) (int64, error) {
	n, err := r.client.Get(ctx, dailyKey(day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", dailyKey(day), err)
	}
	return n, nil
}

// MemoryDailyAggregate is used when no Redis is configured.
type MemoryDailyAggregate struct {
	mu   sync.Mutex
	days map[string]int64
}

func NewMemoryDailyAggregate() *MemoryDailyAggregate {
	return &MemoryDailyAggregate{days: make(map[string]int64)}
}

func (m *MemoryDailyAggregate) Increment(ctx context.Context, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := day.Format(time.DateOnly)
	m.days[k]++
	return m.days[k], nil
}

func (m *MemoryDailyAggregate) Get(ctx context.Context, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.days[day.Format(time.DateOnly)], nil
}
