// Package retry re-runs failing backend calls with exponential backoff and
// jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/cexll/aisdk-go/pkg/model"
)

// DefaultBaseDelay is the delay before the first retry.
const DefaultBaseDelay = 2 * time.Second

const maxShift = 30

// Policy configures Do. The zero value retries nothing.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay defaults to DefaultBaseDelay.
	BaseDelay time.Duration
	// Retryable decides whether an error is worth retrying. Defaults to
	// model.IsRetryable.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a value in [0, n). Defaults to math/rand.
	Jitter func(n int64) int64
	// OnRetry observes every scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
	Logger  zerolog.Logger
}

// New returns a policy with the default base delay and a silent logger.
func New(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: DefaultBaseDelay, Logger: zerolog.Nop()}
}

// Error reports a call that did not succeed. Attempts counts every
// invocation of the operation.
type Error struct {
	Err        error
	Attempts   int
	MaxRetries int
	// Exhausted is true when the retry budget ran out; false when the
	// failure was terminal on its own.
	Exhausted bool
}

func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("failed after %d retries: %v", e.MaxRetries, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Attempts returns the number of attempts recorded in err, or 0.
func Attempts(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

// Backoff returns the delay before retry number attempt (1-based), without
// jitter: BaseDelay * 2^(attempt-1).
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxShift {
		shift = maxShift
	}
	return base << shift
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	n := int64(d / 4)
	if n <= 0 {
		return d
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return d + time.Duration(jitter(n))
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is exhausted. ctx is checked before every attempt and
// interrupts the backoff sleep.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	retryable := p.Retryable
	if retryable == nil {
		retryable = model.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, &Error{Err: canceled(err), Attempts: attempts, MaxRetries: p.MaxRetries}
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		attempts++

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, &Error{Err: canceled(ctxErr), Attempts: attempts, MaxRetries: p.MaxRetries}
		}
		if !retryable(err) {
			return zero, &Error{Err: err, Attempts: attempts, MaxRetries: p.MaxRetries}
		}
		if attempts > p.MaxRetries {
			return zero, &Error{Err: err, Attempts: attempts, MaxRetries: p.MaxRetries, Exhausted: true}
		}

		d := p.delay(attempts)
		p.Logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_retries", p.MaxRetries).
			Int64("delay_ms", d.Milliseconds()).
			Msg("retrying operation")
		if p.OnRetry != nil {
			p.OnRetry(attempts, d, err)
		}
		if err := sleep(ctx, d); err != nil {
			return zero, &Error{Err: canceled(err), Attempts: attempts, MaxRetries: p.MaxRetries}
		}
	}
}

func canceled(err error) error {
	var me *model.Error
	if errors.As(err, &me) && me.Kind == model.KindCanceled {
		return err
	}
	return model.WrapError(model.KindCanceled, "operation canceled", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
