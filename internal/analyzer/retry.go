package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
)

// RetryConfig controls retries and the circuit breaker around provider calls.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Timeout           time.Duration // per attempt

	FailureThreshold int           // failures before the circuit opens
	SuccessThreshold int           // half-open successes before it closes
	OpenTimeout      time.Duration // how long the circuit stays open
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Timeout:           120 * time.Second,
		FailureThreshold:  5,
		SuccessThreshold:  2,
		OpenTimeout:       30 * time.Second,
	}
}

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // requests pass through
	CircuitOpen                         // requests fail fast
	CircuitHalfOpen                     // probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a provider that keeps failing.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *slog.Logger
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		logger:           logging.OrDiscard(logger),
	}
}

// Allow returns ErrCircuitOpen while the circuit is open. Once the open
// timeout has passed the circuit moves to half-open and lets a probe through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns the state and counters.
func (cb *CircuitBreaker) Metrics() (state CircuitState, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.successCount
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	cb.logger.Warn("circuit breaker state change",
		"from", from.String(),
		"to", to.String(),
		"failures", cb.failureCount,
		"open_timeout", cb.openTimeout)
}

// callGuard wraps every provider call with a concurrency slot, a rate
// limit, the circuit breaker and retries with exponential backoff.
type callGuard struct {
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newCallGuard(opts config.ProviderOptions, logger *slog.Logger) *callGuard {
	logger = logging.OrDiscard(logger)
	rc := DefaultRetryConfig()
	if opts.MaxRetries >= 0 {
		rc.MaxRetries = opts.MaxRetries
	}
	if opts.Timeout > 0 {
		rc.Timeout = opts.Timeout
	}
	g := &callGuard{
		retry:   rc,
		breaker: NewCircuitBreaker(rc.FailureThreshold, rc.SuccessThreshold, rc.OpenTimeout, logger),
		logger:  logger,
	}
	if opts.MaxConcurrentCalls > 0 {
		g.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentCalls))
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return g
}

// do runs fn until it succeeds, fails with a non-retriable error or the
// retries are exhausted. Each attempt gets its own timeout.
func (g *callGuard) do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire call slot for %s: %w", operation, err)
		}
		defer g.sem.Release(1)
	}

	var lastErr error
	backoff := g.retry.InitialBackoff

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if err := g.breaker.Allow(); err != nil {
			state, failures, _ := g.breaker.Metrics()
			g.logger.Warn("call blocked by circuit breaker",
				"operation", operation, "state", state.String(), "failures", failures)
			return fmt.Errorf("%s: %w", operation, err)
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limiter: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			g.breaker.RecordSuccess()
			if attempt > 0 {
				g.logger.Info("call succeeded after retries", "operation", operation, "retries", attempt)
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}
		if !isRetriableError(err) {
			g.logger.Debug("non-retriable failure", "operation", operation, "error", err)
			return err
		}
		g.breaker.RecordFailure()
		if attempt == g.retry.MaxRetries {
			break
		}

		g.logger.Info("call failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", g.retry.MaxRetries+1,
			"backoff", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * g.retry.BackoffMultiplier)
			if backoff > g.retry.MaxBackoff {
				backoff = g.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s: cancelled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, g.retry.MaxRetries+1, lastErr)
}

// open reports whether the breaker is currently rejecting calls.
func (g *callGuard) open() bool {
	return g.breaker.State() == CircuitOpen
}

// isRetriableError reports whether err looks transient.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// 4xx client errors other than rate limits will not succeed on retry.
	for _, code := range []string{"400", "401", "403", "404"} {
		if strings.Contains(errStr, code) {
			return false
		}
	}

	for _, marker := range []string{
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504", "529",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"connection refused", "connection reset", "timeout", "timed out",
		"temporary failure", "network",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
