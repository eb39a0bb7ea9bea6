package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/haukened/vanish/internal/domain"
)

const (
	defaultStorageTimeout = 10 * time.Second
	defaultStorageRetries = 3
)

// permanent reports whether err is a definitive answer from storage that
// retrying cannot change.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrInvalidParameters) ||
		errors.Is(err, domain.ErrInvalidBlobRef)
}

func (s *Service) storageTimeout() time.Duration {
	if s.StorageTimeout > 0 {
		return s.StorageTimeout
	}
	return defaultStorageTimeout
}

func (s *Service) storageRetries() uint64 {
	if s.StorageRetries > 0 {
		return s.StorageRetries
	}
	return defaultStorageRetries
}

func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, s.storageRetries()), ctx)
}

// retryValue runs fn with exponential backoff. Each attempt gets its own
// storage timeout unless stream is set, in which case the caller's context is
// passed through untouched because the result outlives the call. Permanent
// domain errors are returned as-is; anything else that survives the retries
// is reported as domain.ErrStorageFailure.
func retryValue[T any](ctx context.Context, s *Service, op string, stream bool, fn func(context.Context) (T, error)) (T, error) {
	var (
		out     T
		attempt int
	)
	err := backoff.RetryNotify(func() error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if !stream {
			actx, cancel = context.WithTimeout(ctx, s.storageTimeout())
		}
		defer cancel()
		v, err := fn(actx)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, s.newBackOff(ctx), func(err error, d time.Duration) {
		s.logger().Warn("storage retry", "domain", "app", "op", op, "attempt", attempt, "backoff_ms", d.Milliseconds(), "error", err)
	})
	if err == nil {
		return out, nil
	}
	if permanent(err) {
		return out, err
	}
	return out, fmt.Errorf("%w: %s: %w", domain.ErrStorageFailure, op, err)
}

// retry is retryValue for operations without a result.
func (s *Service) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := retryValue(ctx, s, op, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// once runs fn a single time under the storage timeout. It is used for
// operations that are not idempotent, where a retry after an ambiguous failure
// could apply the mutation twice.
func (s *Service) once(ctx context.Context, op string, fn func(context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, s.storageTimeout())
	defer cancel()
	err := fn(actx)
	if err == nil || permanent(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageFailure, op, err)
}

// detached returns a context that survives cancellation of ctx, for cleanup
// that must finish even when the client went away.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

var errNoProgress = errors.New("no progress")

// withIdleTimeout derives a context that is canceled once touch has not been
// called for d. Streams of unbounded length use it instead of a fixed deadline.
func withIdleTimeout(parent context.Context, d time.Duration) (ctx context.Context, touch func(), stop func()) {
	ctx, cancel := context.WithCancelCause(parent)
	t := time.AfterFunc(d, func() { cancel(errNoProgress) })
	touch = func() { t.Reset(d) }
	stop = func() {
		t.Stop()
		cancel(context.Canceled)
	}
	return ctx, touch, stop
}

// progressReader reports every successful read.
type progressReader struct {
	r     io.Reader
	touch func()
}

func (p progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.touch()
	}
	return n, err
}
