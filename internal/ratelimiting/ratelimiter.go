package ratelimiting

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Consume(key string) bool
}

const (
	bucketTTL     = 30 * time.Minute
	sweepInterval = time.Minute
)

type tokenBucketRateLimiter struct {
	limiterByKey    *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond rate.Limit
	burstSize       int

	sweepInterval time.Duration
	// Unix nanos of the last removal of idle buckets
	lastSweep atomic.Int64
}

func (rateLimiter *tokenBucketRateLimiter) Consume(key string) bool {
	rateLimiter.sweep()

	limiter, _ := rateLimiter.limiterByKey.GetOrSet(key, rate.NewLimiter(rateLimiter.refillPerSecond, rateLimiter.burstSize))
	return limiter.Value().Allow()
}

// sweep drops idle buckets at most once per sweepInterval, from whichever
// caller gets there first
func (rateLimiter *tokenBucketRateLimiter) sweep() {
	now := time.Now().UnixNano()
	last := rateLimiter.lastSweep.Load()
	if now-last < int64(rateLimiter.sweepInterval) {
		return
	}
	if !rateLimiter.lastSweep.CompareAndSwap(last, now) {
		return
	}
	rateLimiter.limiterByKey.DeleteExpired()
}

type RefillPerSecond float64
type BurstSize int

// NewTokenBucketRateLimiter keeps one token bucket per key. Buckets for keys
// that have been idle for 30 minutes are dropped while the limiter is in use,
// so no background goroutine is needed.
func NewTokenBucketRateLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize) RateLimiter {
	return newTokenBucketRateLimiter(refillPerSecond, burstSize, bucketTTL, sweepInterval)
}

func newTokenBucketRateLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize, ttl time.Duration, sweepInterval time.Duration) *tokenBucketRateLimiter {
	limiterTTLCache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](ttl),
	)

	rateLimiter := &tokenBucketRateLimiter{
		limiterByKey:    limiterTTLCache,
		refillPerSecond: rate.Limit(refillPerSecond),
		burstSize:       int(burstSize),
		sweepInterval:   sweepInterval,
	}
	rateLimiter.lastSweep.Store(time.Now().UnixNano())
	return rateLimiter
}

type RequestRateLimiter interface {
	Consume(r *http.Request) bool
	KeyFor(r *http.Request) string
}

type requestBasedRateLimiter struct {
	limiter RateLimiter
	keyFunc func(r *http.Request) string
}

func (rateLimiter *requestBasedRateLimiter) Consume(r *http.Request) bool {
	return rateLimiter.limiter.Consume(rateLimiter.keyFunc(r))
}

func (rateLimiter *requestBasedRateLimiter) KeyFor(r *http.Request) string {
	return rateLimiter.keyFunc(r)
}

func NewRequestBasedRateLimiter(limiter RateLimiter, keyFunc func(r *http.Request) string) RequestRateLimiter {
	return &requestBasedRateLimiter{
		limiter: limiter,
		keyFunc: keyFunc,
	}
}

// IPKeyFunc keys on the client ip, preferring the first hop in
// X-Forwarded-For when running behind a proxy
func IPKeyFunc(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		client, _, _ := strings.Cut(forwardedFor, ",")
		if client = strings.TrimSpace(client); client != "" {
			return fmt.Sprintf("ip: %s", client)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return fmt.Sprintf("ip: %s", host)
}

// ConnectionKeyFunc keys client messages on the websocket connection they
// arrived on
func ConnectionKeyFunc(connectionID string) string {
	return fmt.Sprintf("connection: %.50s", connectionID)
}
