// Package retry wraps loader operations with bounded exponential backoff.
//
// Every operation gets the same budget: three attempts with delays of
// 250ms and 500ms between them. Errors registered as permanent are
// returned immediately without further attempts, since no amount of
// retrying fixes a malformed file or a failed audit.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultAttempts     = 3
	defaultInitialDelay = 250 * time.Millisecond
	defaultMultiplier   = 2.0
)

// Policy retries failing operations with exponential backoff.
type Policy struct {
	attempts     uint64
	initialDelay time.Duration
	multiplier   float64
	permanent    []error
	logger       *slog.Logger
}

// New creates a Policy with the default budget. Errors matching any of
// the permanent sentinels (via errors.Is) are never retried.
func New(logger *slog.Logger, permanent ...error) *Policy {
	return &Policy{
		attempts:     defaultAttempts,
		initialDelay: defaultInitialDelay,
		multiplier:   defaultMultiplier,
		permanent:    permanent,
		logger:       logger,
	}
}

// Do runs fn until it succeeds, fails permanently, the attempt budget is
// exhausted, or ctx is done. The last error is returned unwrapped.
func (p *Policy) Do(ctx context.Context, operation string, fn func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.initialDelay
	expo.Multiplier = p.multiplier
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, p.attempts-1), ctx)

	attempt := 0

	return backoff.RetryNotify(
		func() error {
			attempt++

			err := fn()
			if err == nil {
				return nil
			}

			if p.isPermanent(err) {
				return backoff.Permanent(err)
			}

			return err
		},
		policy,
		func(err error, wait time.Duration) {
			p.logger.Warn("Operation failed, retrying",
				slog.String("operation", operation),
				slog.Int("attempt", attempt),
				slog.Uint64("max_attempts", p.attempts),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		},
	)
}

func (p *Policy) isPermanent(err error) bool {
	for _, sentinel := range p.permanent {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}
