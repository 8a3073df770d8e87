package providers

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

type CircuitBreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64
	ConsecutiveFailures uint32
}

func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                name,
		MaxRequests:         1,
		Interval:            5 * time.Minute,
		Timeout:             90 * time.Second,
		ErrorRateThreshold:  60.0,
		ConsecutiveFailures: 3,
	}
}

// NewCircuitBreaker trips on consecutive failures or, once there are enough
// samples, on the error rate.
func NewCircuitBreaker(config CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: tripCondition(config),
		OnStateChange: func(name string, from, to gobreaker.State) {
			evt := log.Info()
			if to == gobreaker.StateOpen {
				evt = log.Warn()
			}
			evt.Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

func tripCondition(config CircuitBreakerConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if config.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= config.ConsecutiveFailures {
			return true
		}
		if counts.Requests >= 10 && config.ErrorRateThreshold > 0 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return errorRate >= config.ErrorRateThreshold
		}
		return false
	}
}
