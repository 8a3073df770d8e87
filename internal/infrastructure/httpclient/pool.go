package httpclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type ClientConfig struct {
	MaxConcurrency int
	RequestTimeout time.Duration
	MaxRetries     int // 0 means the next scheduled refresh is the retry
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
	Headers        map[string]string
}

// ClientPool bounds concurrent requests to one upstream host and applies the
// shared user agent and headers.
type ClientPool struct {
	config    ClientConfig
	semaphore chan struct{}
	client    *http.Client
	mu        sync.RWMutex
	stats     ClientStats
}

type ClientStats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	RetriedRequests int64
	LastLatency     time.Duration
}

func NewClientPool(config ClientConfig) *ClientPool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 30 * time.Second
	}
	return &ClientPool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

func (cp *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case cp.semaphore <- struct{}{}:
		defer func() { <-cp.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if cp.config.UserAgent != "" {
		req.Header.Set("User-Agent", cp.config.UserAgent)
	}
	for k, v := range cp.config.Headers {
		req.Header.Set(k, v)
	}

	var lastErr error
	for attempt := 0; attempt <= cp.config.MaxRetries; attempt++ {
		if attempt > 0 {
			cp.record(func(s *ClientStats) { s.RetriedRequests++ })

			backoff := cp.calculateBackoff(attempt)
			log.Debug().
				Dur("backoff", backoff).
				Int("attempt", attempt).
				Str("url", req.URL.String()).
				Msg("Retrying HTTP request")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		resp, err := cp.client.Do(req.WithContext(ctx))
		latency := time.Since(start)

		if err != nil {
			lastErr = err
			cp.record(func(s *ClientStats) { s.TotalRequests++; s.FailedRequests++; s.LastLatency = latency })
			if ctx.Err() == nil && isRetryableError(err) {
				continue
			}
			return nil, err
		}

		if isRetryableStatus(resp.StatusCode) && attempt < cp.config.MaxRetries {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			cp.record(func(s *ClientStats) { s.TotalRequests++; s.FailedRequests++; s.LastLatency = latency })
			continue
		}

		failed := resp.StatusCode >= http.StatusBadRequest
		cp.record(func(s *ClientStats) {
			s.TotalRequests++
			s.LastLatency = latency
			if failed {
				s.FailedRequests++
			} else {
				s.SuccessRequests++
			}
		})
		return resp, nil
	}

	return nil, lastErr
}

func (cp *ClientPool) calculateBackoff(attempt int) time.Duration {
	backoff := cp.config.BackoffBase * time.Duration(1<<uint(attempt-1))
	if backoff > cp.config.BackoffMax {
		backoff = cp.config.BackoffMax
	}

	// up to 10% jitter
	jitter := time.Duration(rand.Float64() * 0.1 * float64(backoff))
	return backoff + jitter
}

func (cp *ClientPool) GetStats() ClientStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.stats
}

func (cp *ClientPool) record(fn func(*ClientStats)) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	fn(&cp.stats)
}

func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
