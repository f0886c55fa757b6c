package terrain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/metrics"
	"github.com/lox/pvyield/internal/models"
)

type GuardOptions struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxElapsed bounds all attempts of one invocation together.
	MaxElapsed time.Duration
	// BreakerTimeout is how long the breaker stays open before a trial call.
	BreakerTimeout time.Duration
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

// Guard wraps a Model so that a stalled or failing backend cannot block a
// whole run. Every error it returns wraps models.ErrModelInvocation.
//
// An open breaker does not fail a call outright: the call keeps backing off
// until the breaker lets a trial request through or MaxElapsed runs out, so
// a short outage delays callers instead of failing all of them.
type Guard struct {
	model   Model
	opts    GuardOptions
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewGuard(model Model, opts GuardOptions, logger *zap.Logger) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 3 * opts.Timeout
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = backoff.DefaultInitialInterval
	}
	logger = logger.Named("terrain")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "terrain-model",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A rejected request says nothing about backend health.
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Guard{model: model, opts: opts, breaker: breaker, logger: logger}
}

func (g *Guard) Compute(ctx context.Context, req Request) ([]models.RadiationSample, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = "unspecified"
	}

	var samples []models.RadiationSample
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			metrics.ModelRetriesTotal.Inc()
		}
		callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()

		out, err := g.breaker.Execute(func() (interface{}, error) {
			return g.model.Compute(callCtx, req)
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrRejected):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			g.logger.Debug("waiting for circuit breaker",
				zap.String("purpose", purpose),
				zap.Int("attempt", attempt))
			return err
		default:
			g.logger.Warn("model attempt failed",
				zap.String("purpose", purpose),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}

		samples = out.([]models.RadiationSample)
		if len(samples) == 0 {
			return backoff.Permanent(errors.New("model returned no data"))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.opts.InitialInterval
	bo.MaxElapsedTime = g.opts.MaxElapsed

	start := time.Now()
	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	metrics.ModelLatency.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelCallsTotal.WithLabelValues(purpose, "error").Inc()
		return nil, fmt.Errorf("%w: t=%.2f d=%.2f after %d attempt(s): %w",
			models.ErrModelInvocation, req.Params.Transmittivity, req.Params.DiffuseProportion, attempt, err)
	}
	metrics.ModelCallsTotal.WithLabelValues(purpose, "ok").Inc()
	return samples, nil
}
