package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/telemetry"
)

const maxBackoff = 10 * time.Second

// GuardConfig controls how outbound model calls are wrapped. The zero value
// makes a single unthrottled attempt.
type GuardConfig struct {
	Name        string
	MaxAttempts int
	Backoff     time.Duration
	// RateLimit is requests per second; 0 disables the limiter.
	RateLimit float64
	Breaker   bool
	// Serialize allows one call at a time through this guard.
	Serialize bool
}

// Guard layers rate limiting, a circuit breaker, retries and tracing over a
// model call without changing its contract.
type Guard struct {
	name     string
	attempts int
	backoff  time.Duration
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	mu       *sync.Mutex
	log      *slog.Logger
}

func NewGuard(cfg GuardConfig, log *slog.Logger) *Guard {
	log = logger.Or(log)
	g := &Guard{
		name:     cfg.Name,
		attempts: cfg.MaxAttempts,
		backoff:  cfg.Backoff,
		log:      log,
	}
	if g.attempts < 1 {
		g.attempts = 1
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.Breaker {
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	if cfg.Serialize {
		g.mu = &sync.Mutex{}
	}
	return g
}

// Do runs fn under the guard. A nil Guard runs fn directly.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	ctx, span := telemetry.Tracer().Start(ctx, g.name)
	defer span.End()

	var err error
	attempt := 1
	for ; ; attempt++ {
		err = g.once(ctx, fn)
		if err == nil || attempt >= g.attempts || !retryable(err) {
			break
		}
		delay := backoffDelay(g.backoff, attempt)
		g.log.Warn("model call failed, retrying", "call", g.name, "attempt", attempt, "delay", delay.String(), "error", err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		case <-t.C:
			continue
		}
		break
	}

	span.SetAttributes(attribute.Int("model.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// backoffDelay doubles base per attempt up to maxBackoff. A zero base
// retries immediately.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << (attempt - 1)
	if delay > maxBackoff || delay < base {
		delay = maxBackoff
	}
	return delay
}

func (g *Guard) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if g.mu != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
	}
	if g.breaker == nil {
		return fn(ctx)
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}
