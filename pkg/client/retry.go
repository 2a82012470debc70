package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type retrier struct {
	initial    time.Duration
	max        time.Duration
	maxRetries int
	sleep      func(context.Context, time.Duration) error
	logger     zerolog.Logger
}

func newRetrier(initial, max time.Duration, maxRetries int, logger zerolog.Logger) *retrier {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &retrier{
		initial:    initial,
		max:        max,
		maxRetries: maxRetries,
		sleep:      sleepContext,
		logger:     logger,
	}
}

func (r *retrier) do(ctx context.Context, fn func() error, retryable func(error) bool) error {
	var attempt int
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= r.maxRetries || !retryable(err) {
			return err
		}
		delay := backoffWithJitter(r.initial, r.max, attempt)
		r.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("sleep", delay).Msg("retrying request")
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
		attempt++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffWithJitter(initial, max time.Duration, attempt int) time.Duration {
	b := float64(initial) * math.Pow(2, float64(attempt))
	if b > float64(max) {
		b = float64(max)
	}
	j := b / 2
	return time.Duration(j + rand.Float64()*j)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *retryableStatusError
	return errors.As(err, &statusErr)
}

// isUnsent reports whether err shows the server cannot have acted on the
// request: the connection was never established, or the rate limiter
// turned it away before any handler ran.
func isUnsent(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var statusErr *retryableStatusError
	return errors.As(err, &statusErr) && statusErr.status == http.StatusTooManyRequests
}

// retryMode says which failures a call may be repeated after.
type retryMode int

const (
	// retryIdempotent repeats on any transient failure; a second attempt
	// cannot change the outcome.
	retryIdempotent retryMode = iota
	// retryUnsent repeats only when the first attempt never reached a handler.
	retryUnsent
)

func (m retryMode) retryable(err error) bool {
	if m == retryUnsent {
		return isUnsent(err)
	}
	return isRetryable(err)
}

func isRetryableStatus(code int) bool {
	return code >= 500 && code < 600 || code == http.StatusTooManyRequests
}

// retryableStatusError wraps the decoded server error for a 5xx or 429.
type retryableStatusError struct {
	status int
	err    error
}

func (e *retryableStatusError) Error() string {
	return http.StatusText(e.status) + ": " + e.err.Error()
}

func (e *retryableStatusError) Unwrap() error {
	return e.err
}
