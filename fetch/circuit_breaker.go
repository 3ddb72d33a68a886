package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// Breaker states reported by BreakerStates.
const (
	StateClosed = "closed"
	StateOpen   = "open"
)

const defaultTripThreshold = 5

// CircuitBreakerFetcher wraps a Downloader with one circuit breaker per
// storage host. Missing archives do not count as failures.
type CircuitBreakerFetcher struct {
	next      Downloader
	threshold int64

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

var _ Downloader = (*CircuitBreakerFetcher)(nil)

// NewCircuitBreakerFetcher trips a host's breaker after five consecutive
// failures.
func NewCircuitBreakerFetcher(next Downloader) *CircuitBreakerFetcher {
	return &CircuitBreakerFetcher{
		next:      next,
		threshold: defaultTripThreshold,
		breakers:  make(map[string]*circuit.Breaker),
	}
}

// WithThreshold sets the number of consecutive failures that trips a breaker.
// It only affects breakers created afterwards.
func (c *CircuitBreakerFetcher) WithThreshold(n int64) *CircuitBreakerFetcher {
	if n > 0 {
		c.threshold = n
	}
	return c
}

func (c *CircuitBreakerFetcher) breaker(host string) *circuit.Breaker {
	c.mu.RLock()
	b, ok := c.breakers[host]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 30 * time.Second
	exp.MaxInterval = 5 * time.Minute
	exp.Multiplier = 2.0
	exp.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    exp,
		ShouldTrip: circuit.ThresholdTripFunc(c.threshold),
	})
	c.breakers[host] = b
	return b
}

func (c *CircuitBreakerFetcher) call(rawURL string, fn func() error) error {
	host := hostOf(rawURL)
	b := c.breaker(host)
	if !b.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	err := fn()
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		b.Success()
	} else {
		b.Fail()
	}
	return err
}

func (c *CircuitBreakerFetcher) Fetch(ctx context.Context, rawURL string) (a *Archive, err error) {
	err = c.call(rawURL, func() error {
		a, err = c.next.Fetch(ctx, rawURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (c *CircuitBreakerFetcher) Stat(ctx context.Context, rawURL string) (a *Archive, err error) {
	err = c.call(rawURL, func() error {
		a, err = c.next.Stat(ctx, rawURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return u.Host
}

// BreakerStates returns the state of every known host's breaker, for health
// checks.
func (c *CircuitBreakerFetcher) BreakerStates() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make(map[string]string, len(c.breakers))
	for host, b := range c.breakers {
		if b.Tripped() {
			states[host] = StateOpen
		} else {
			states[host] = StateClosed
		}
	}
	return states
}
