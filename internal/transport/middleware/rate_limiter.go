// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"math"
	"sync"
	"time"
)

const limiterPruneEvery = time.Minute

type rateLimitDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type tokenBucket struct {
	limit  int
	tokens float64
	at     time.Time
}

func (b tokenBucket) perSecond() float64 { return float64(b.limit) / 60.0 }

// level is the token count at now without mutating the bucket.
func (b tokenBucket) level(now time.Time) float64 {
	elapsed := now.Sub(b.at).Seconds()
	if elapsed <= 0 {
		return b.tokens
	}
	return math.Min(float64(b.limit), b.tokens+elapsed*b.perSecond())
}

// inMemoryRateLimiter keeps one token bucket per identity key. Anonymous keys
// are client IPs, so buckets that have refilled completely are pruned; a full
// bucket is indistinguishable from a missing one.
type inMemoryRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]tokenBucket
	lastPrune time.Time
}

func newInMemoryRateLimiter() *inMemoryRateLimiter {
	return &inMemoryRateLimiter{buckets: make(map[string]tokenBucket, 64)}
}

// Allow takes one token from key's bucket. Buckets refill continuously at
// limitPerMinute per minute; a changed limit starts a fresh bucket.
func (l *inMemoryRateLimiter) Allow(key string, limitPerMinute int, now time.Time) rateLimitDecision {
	limitPerMinute = max(limitPerMinute, 1)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= limiterPruneEvery {
		l.pruneLocked(now)
	}

	bucket, ok := l.buckets[key]
	if !ok || bucket.limit != limitPerMinute {
		bucket = tokenBucket{limit: limitPerMinute, tokens: float64(limitPerMinute), at: now}
	}
	if now.After(bucket.at) {
		bucket.tokens = bucket.level(now)
		bucket.at = now
	}

	decision := rateLimitDecision{LimitPerMinute: limitPerMinute}
	if bucket.tokens >= 1 {
		bucket.tokens--
		decision.Allowed = true
	} else {
		wait := math.Ceil((1 - bucket.tokens) / bucket.perSecond())
		decision.RetryAfterSeconds = max(int(wait), 1)
	}
	decision.Remaining = int(math.Floor(bucket.tokens))

	l.buckets[key] = bucket
	return decision
}

func (l *inMemoryRateLimiter) pruneLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if bucket.level(now) >= float64(bucket.limit) {
			delete(l.buckets, key)
		}
	}
	l.lastPrune = now
}

func (l *inMemoryRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
