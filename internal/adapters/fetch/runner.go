// Package fetch implements the retry and fallback policy shared by every tile
// source: each endpoint in caller order gets a fixed number of tries, each
// try runs under its own timeout, and the first success wins.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

// DefaultMaxTries is the per-endpoint try budget.
const DefaultMaxTries = 2

// Policy bounds the work done against each endpoint.
type Policy struct {
	MaxTries int           // tries per endpoint, DefaultMaxTries when <= 0
	Timeout  time.Duration // per try, none when <= 0
}

// Attempt performs one try against endpoint.
type Attempt func(ctx context.Context, endpoint string) ([]byte, error)

// Runner applies a Policy to an ordered endpoint list. It keeps no state
// between calls: the first endpoint is always tried first.
type Runner struct {
	source  string
	policy  Policy
	metrics *metrics.Pipeline
	logger  *slog.Logger
}

// NewRunner builds a runner for the named source. m and logger may be nil.
func NewRunner(source string, policy Policy, m *metrics.Pipeline, logger *slog.Logger) *Runner {
	if policy.MaxTries <= 0 {
		policy.MaxTries = DefaultMaxTries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{source: source, policy: policy, metrics: m, logger: logger.With("source", source)}
}

// Policy returns the effective policy.
func (r *Runner) Policy() Policy { return r.policy }

// Do tries endpoints in order until one succeeds.
//
// Retryable transport errors (timeouts, connection failures, 429, 504) spend
// another try on the same endpoint. Any other error moves on to the next
// endpoint. A not-found answer also moves on but does not count as a failure;
// if no endpoint has the payload, Do returns domain.ErrTileNotFound. When every
// endpoint failed the result is a *domain.ExhaustedError carrying the last
// error seen. Cancelling ctx stops immediately.
func (r *Runner) Do(ctx context.Context, endpoints []string, attempt Attempt) ([]byte, error) {
	var last error
	notFound := false

	for _, endpoint := range endpoints {
		for try := 1; try <= r.policy.MaxTries; try++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			body, err := r.try(ctx, endpoint, attempt)
			if err == nil {
				r.metrics.FetchAttempt(r.source, metrics.OutcomeOK)
				return body, nil
			}
			if errors.Is(err, domain.ErrTileNotFound) {
				r.metrics.FetchAttempt(r.source, metrics.OutcomeNotFound)
				notFound = true
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			last = err
			if retryable(err) && try < r.policy.MaxTries {
				r.metrics.FetchAttempt(r.source, metrics.OutcomeRetry)
				r.logger.Debug("fetch try failed, retrying", "endpoint", endpoint, "try", try, "error", err)
				continue
			}
			r.metrics.FetchAttempt(r.source, metrics.OutcomeFailed)
			r.logger.Debug("endpoint failed", "endpoint", endpoint, "error", err)
			break
		}
	}

	if notFound {
		return nil, domain.ErrTileNotFound
	}
	return nil, &domain.ExhaustedError{Source: r.source, Last: last}
}

func (r *Runner) try(ctx context.Context, endpoint string, attempt Attempt) ([]byte, error) {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}
	return attempt(ctx, endpoint)
}

func retryable(err error) bool {
	var te *domain.TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
