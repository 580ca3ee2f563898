package gateway

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
)

// RateLimiter throttles management callers with one token bucket per
// remote address.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	perSec  rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens *rate.Limiter
	used   time.Time
}

// NewRateLimiter allows perMinute requests per caller with bursts of up to
// burst requests.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: map[string]*bucket{},
		perSec:  rate.Limit(float64(perMinute) / 60),
		burst:   max(burst, 1),
		now:     time.Now,
	}
}

// Allow takes a token for caller. When none is left it reports how long
// the caller should wait for the next one.
func (rl *RateLimiter) Allow(caller string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.buckets[caller]
	if b == nil {
		b = &bucket{tokens: rate.NewLimiter(rl.perSec, rl.burst)}
		rl.buckets[caller] = b
	}
	b.used = now
	if b.tokens.AllowN(now, 1) {
		return true, 0
	}
	missing := 1 - b.tokens.TokensAt(now)
	if rl.perSec <= 0 {
		return false, time.Minute
	}
	return false, time.Duration(missing / float64(rl.perSec) * float64(time.Second))
}

// Forget drops the buckets of callers idle for longer than idle and returns
// how many were dropped.
func (rl *RateLimiter) Forget(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	cutoff := rl.now().Add(-idle)
	for caller, b := range rl.buckets {
		if b.used.Before(cutoff) {
			delete(rl.buckets, caller)
			dropped++
		}
	}
	return dropped
}

// Tracked returns the number of callers holding a bucket.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// StartCleanup calls Forget every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, idle time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rl.Forget(idle)
			}
		}
	}()
}

// Middleware rejects callers over their budget with 429 and a Retry-After
// header. A nil limiter lets everything through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Allow(getClientIP(r))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			httputil.WriteErr(w, r, errors.NewRateLimitError(int(rl.perSec*60), max(secs, 1)))
			return
		}
		next.ServeHTTP(w, r)
	})
}
