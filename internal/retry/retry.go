// Package retry implements an exponential-backoff-with-jitter policy,
// wrapping github.com/cenkalti/backoff/v5. The embedders, reflectors and
// storage backends in this module do not call it: their errors reach the
// caller after a single attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mnemo/internal/config"
	"mnemo/internal/mnemoerr"
)

// Policy runs an operation under the configured retry policy. Non-retryable
// errors (validation, authentication) must be returned wrapped in
// Permanent so the caller's own classification wins over blind retrying.
type Policy struct {
	maxAttempts uint
	base        time.Duration
	max         time.Duration
	exponent    float64
	jitter      bool
}

// New builds a Policy from cfg as given. config.Default carries the
// documented values (max_attempts=3, base_delay=0.5s, max_delay=30s,
// base=2.0); New fills in no defaults itself beyond the 500ms / 30s
// fallbacks of RetryConfig's delay parsers for unparseable durations.
func New(cfg config.RetryConfig) Policy {
	return Policy{
		maxAttempts: uint(cfg.MaxAttempts),
		base:        cfg.BaseDelayDuration(),
		max:         cfg.MaxDelayDuration(),
		exponent:    cfg.ExponentialBase,
		jitter:      cfg.Jitter,
	}
}

// Permanent marks err as non-retryable: validation and authentication
// failures must not be retried per spec §5.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn, retrying retryable failures per the configured policy.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	operation := func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.base
	bo.MaxInterval = p.max
	bo.Multiplier = p.exponent
	if !p.jitter {
		bo.RandomizationFactor = 0
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.maxAttempts),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Unwrap()
		}
		return err
	}
	return nil
}

// IsValidationOrAuth reports whether err wraps mnemoerr.ErrValidation, for
// callers deciding whether to wrap fn's error in Permanent. mnemoerr has no
// authentication sentinel, so authentication failures are not recognised
// here and report false.
func IsValidationOrAuth(err error) bool {
	return errors.Is(err, mnemoerr.ErrValidation)
}
