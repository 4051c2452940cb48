package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// maxBackoff caps the delay between two attempts.
const maxBackoff = 30 * time.Second

// retryPolicy runs backend calls with per-call timeouts and bounded retries.
//
//   - Unreachable and Timeout: retried with exponential backoff up to maxAttempts.
//   - AuthExpired: one forced credential refresh, then one more try.
//   - Everything else is terminal.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration
}

func newRetryPolicy(cfg domain.SyncConfig) retryPolicy {
	p := retryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		callTimeout: cfg.EffectiveCallTimeout(),
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 1
	}
	if p.baseDelay <= 0 {
		p.baseDelay = time.Millisecond
	}
	return p
}

// do runs fn until it succeeds or fails terminally and returns the number
// of calls made.
func (p retryPolicy) do(ctx context.Context, backend driven.Backend, op string, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	refreshed := false

	for {
		err := p.doTransient(ctx, op, &attempts, fn)
		if err == nil {
			return attempts, nil
		}
		if domain.KindOf(err) != domain.ErrorKindAuthExpired || refreshed {
			return attempts, err
		}

		refresher, ok := backend.(driven.AuthRefresher)
		if !ok {
			return attempts, err
		}
		refreshed = true

		logger.Debug("%s: credentials rejected, forcing refresh", op)
		if rerr := refresher.ForceRefresh(ctx); rerr != nil {
			return attempts, fmt.Errorf("%w: %w", domain.ErrAuthExpired, rerr)
		}
	}
}

// doTransient retries fn on transient failures only.
func (p retryPolicy) doTransient(ctx context.Context, op string, attempts *int, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(p.baseDelay)
	b = retry.WithCappedDuration(maxBackoff, b)
	b = retry.WithMaxRetries(uint64(p.maxAttempts-1), b) //nolint:gosec // maxAttempts is at least 1

	return retry.Do(ctx, b, func(ctx context.Context) error {
		*attempts++
		err := p.call(ctx, fn)
		if err == nil {
			return nil
		}
		if domain.KindOf(err).IsTransient() && ctx.Err() == nil {
			logger.Debug("%s: attempt %d failed: %v", op, *attempts, err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// call runs fn under the per-call timeout, mapping an expired call
// deadline to ErrTimeout.
func (p retryPolicy) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}
