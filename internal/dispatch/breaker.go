package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"labflow/internal/config"
	"labflow/pkg/circuitbreaker"
)

// CircuitBreakerTransport keeps one breaker per instrument so a dead
// analyzer stops taking orders without affecting the others.
type CircuitBreakerTransport struct {
	next     Transport
	cfg      config.CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Wrapper
}

func NewCircuitBreakerTransport(next Transport, cfg config.CircuitBreakerConfig) *CircuitBreakerTransport {
	return &CircuitBreakerTransport{
		next:     next,
		cfg:      cfg,
		breakers: make(map[string]*circuitbreaker.Wrapper),
	}
}

func (t *CircuitBreakerTransport) breaker(instrumentRef string) *circuitbreaker.Wrapper {
	if !t.cfg.Enabled {
		return nil
	}

	key := strings.ToLower(instrumentRef)
	t.mu.Lock()
	defer t.mu.Unlock()

	cb, ok := t.breakers[key]
	if !ok {
		cb = circuitbreaker.NewWrapper(circuitbreaker.ConfigFromOptions("instrument-"+key, circuitbreaker.Options{
			MaxRequests:  t.cfg.MaxRequests,
			Interval:     t.cfg.Interval,
			Timeout:      t.cfg.Timeout,
			FailureRatio: t.cfg.FailureRatio,
			MinRequests:  t.cfg.MinRequests,
		}))
		t.breakers[key] = cb
	}
	return cb
}

func (t *CircuitBreakerTransport) Send(ctx context.Context, instrumentRef, message string, timeout time.Duration) (string, error) {
	reply, err := circuitbreaker.Do(ctx, t.breaker(instrumentRef), func() (string, error) {
		return t.next.Send(ctx, instrumentRef, message, timeout)
	})
	if err != nil {
		return "", transportError(instrumentRef, "send", err)
	}
	return reply, nil
}

// State reports the breaker state of one instrument.
func (t *CircuitBreakerTransport) State(instrumentRef string) string {
	cb := t.breaker(instrumentRef)
	if cb == nil {
		return "disabled"
	}
	return cb.State().String()
}
