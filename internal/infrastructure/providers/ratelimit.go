package providers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter keeps outgoing requests under the provider's published budget and
// honours Retry-After after a 429.
type RateLimiter struct {
	provider       string
	limiter        *rate.Limiter
	mu             sync.RWMutex
	throttledUntil time.Time
	now            func() time.Time
}

func NewRateLimiter(provider string, rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RateLimiter{
		provider: provider,
		limiter:  rate.NewLimiter(limit, burst),
		now:      time.Now,
	}
}

// Wait blocks until a token is available. It fails fast while the upstream has
// asked us to back off.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	until := rl.throttledUntil
	rl.mu.RUnlock()

	if now := rl.now(); now.Before(until) {
		return fmt.Errorf("%s rate limited, backoff until %s", rl.provider, until.Format(time.RFC3339))
	}

	if err := rl.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w", rl.provider, err)
	}
	return nil
}

// HandleRetryAfter parses a Retry-After header given in seconds. Unparseable or
// empty values fall back to fallback.
func (rl *RateLimiter) HandleRetryAfter(header string, fallback time.Duration) time.Duration {
	wait := fallback
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		wait = time.Duration(secs) * time.Second
	}

	rl.mu.Lock()
	rl.throttledUntil = rl.now().Add(wait)
	rl.mu.Unlock()

	log.Warn().
		Str("provider", rl.provider).
		Str("retry_after", header).
		Dur("backoff", wait).
		Msg("Upstream rate limit hit")

	return wait
}

func (rl *RateLimiter) ThrottledUntil() time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.throttledUntil
}
