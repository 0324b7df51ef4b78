// Package ratelimit guards the feedback intake with a per-key token bucket and a
// monthly per-source quota.
package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	defaultBurst      = 3
	defaultMaxEntries = 10000
	secondsPerMinute  = 60.0
)

// ErrInvalidLimiterConfig is returned when the limiter table cannot be allocated.
var ErrInvalidLimiterConfig = errors.New("invalid_rate_limiter_config")

// LimiterConfig configures Limiter. RequestsPerMinute <= 0 disables limiting.
type LimiterConfig struct {
	RequestsPerMinute int
	Burst             int
	MaxEntries        int
	Now               func() time.Time
}

// Limiter holds one token bucket per key. The least recently used buckets are
// evicted once MaxEntries keys are tracked.
type Limiter struct {
	mutex   sync.Mutex
	limit   rate.Limit
	burst   int
	entries *lru.Cache[string, *rate.Limiter]
	now     func() time.Time
}

func NewLimiter(config LimiterConfig) (*Limiter, error) {
	burst := config.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	maxEntries := config.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	entries, cacheErr := lru.New[string, *rate.Limiter](maxEntries)
	if cacheErr != nil {
		return nil, errors.Join(ErrInvalidLimiterConfig, cacheErr)
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	limit := rate.Limit(0)
	if config.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(config.RequestsPerMinute) / secondsPerMinute)
	}
	return &Limiter{limit: limit, burst: burst, entries: entries, now: now}, nil
}

func (limiter *Limiter) Enabled() bool {
	return limiter != nil && limiter.limit > 0
}

// Allow consumes one token for key and reports whether the request may proceed.
func (limiter *Limiter) Allow(key string) bool {
	if !limiter.Enabled() {
		return true
	}
	normalizedKey := strings.TrimSpace(key)

	limiter.mutex.Lock()
	bucket, found := limiter.entries.Get(normalizedKey)
	if !found {
		bucket = rate.NewLimiter(limiter.limit, limiter.burst)
		limiter.entries.Add(normalizedKey, bucket)
	}
	limiter.mutex.Unlock()

	return bucket.AllowN(limiter.now(), 1)
}

// Tracked reports how many keys currently hold a bucket.
func (limiter *Limiter) Tracked() int {
	if limiter == nil {
		return 0
	}
	return limiter.entries.Len()
}

// Key joins a source and client address into a limiter key.
func Key(source string, clientIP string) string {
	return strings.TrimSpace(source) + "|" + strings.TrimSpace(clientIP)
}
