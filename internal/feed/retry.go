package feed

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/pkg/smartconnect"
)

// NewExponentialBackoff returns the retry schedule used for feed downloads.
func NewExponentialBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 90 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1
	return b
}

type retrySource struct {
	Source
	newBackoff func() backoff.BackOff
}

// WithRetry retries transient fetch failures of src. Retries stop when ctx is
// done, so a per-source timeout bounds the whole attempt. A nil newBackoff
// uses NewExponentialBackoff.
func WithRetry(src Source, newBackoff func() backoff.BackOff) Source {
	if newBackoff == nil {
		newBackoff = func() backoff.BackOff { return NewExponentialBackoff() }
	}
	return &retrySource{Source: src, newBackoff: newBackoff}
}

func (r *retrySource) Fetch(ctx context.Context) ([]model.RawRow, error) {
	var rows []model.RawRow
	operation := func() error {
		out, err := r.Source.Fetch(ctx)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		rows = out
		return nil
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(r.newBackoff(), ctx),
		func(err error, d time.Duration) {
			log.Printf("[feed] %s: %v, retrying in %v", r.Name(), err, d)
		})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return nil, errors.Join(ctxErr, err)
		}
		return nil, err
	}
	return rows, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *smartconnect.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
