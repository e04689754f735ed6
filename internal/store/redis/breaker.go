package redis

import (
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/marketcalls/openalgo-sub002/internal/metrics"
)

// BreakerConfig tunes the publish circuit breaker.
type BreakerConfig struct {
	MaxRequests uint32        // probes allowed while half-open
	Interval    time.Duration // closed-state counter reset period
	Timeout     time.Duration // open duration before a half-open probe
	MinRequests uint32
	FailRatio   float64
}

// DefaultBreakerConfig trips after 3 requests with >= 60% failures.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		MinRequests: 3,
		FailRatio:   0.6,
	}
}

func newBreaker(name string, cfg BreakerConfig, m *metrics.Metrics) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[redis] circuit breaker %s: %s -> %s", name, from, to)
			if m == nil {
				return
			}
			m.PublisherBreakerState.Set(stateValue(to))
			if to == gobreaker.StateOpen {
				m.PublisherBreakerTrips.Inc()
			}
		},
	})
}

// stateValue maps breaker states to the gauge encoding (0=closed, 1=open, 2=half-open).
func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
