package core

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRefreshMaxAttempts    = 3
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
)

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// BackoffFunc adapts a plain function to RefreshBackoffScheduler.
type BackoffFunc func(attempt int) time.Duration

func (f BackoffFunc) NextDelay(attempt int) time.Duration {
	return f(attempt)
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type RetryOptions struct {
	MaxAttempts int
	Scheduler   RefreshBackoffScheduler
}

type RetryResult struct {
	Attempts int
	// NeedsReauth is set when the last failure can only be cleared by a full
	// re-authentication.
	NeedsReauth bool
}

// RunRefreshWithRetry retries fn with backoff until it succeeds, fails with an
// unrecoverable error or runs out of attempts. It is meant for the caller that
// initiates an authentication; callers sharing an in-flight refresh inside the
// Manager never retry on their own.
func RunRefreshWithRetry(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) (RetryResult, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRefreshMaxAttempts
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = ExponentialBackoffScheduler{}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return RetryResult{Attempts: attempt}, nil
		}
		lastErr = err

		if isUnrecoverableRefreshError(err) {
			return RetryResult{Attempts: attempt, NeedsReauth: true}, err
		}
		if attempt == maxAttempts {
			return RetryResult{Attempts: attempt, NeedsReauth: IsErrorKind(err, ErrorRefreshFailed)}, err
		}
		if waitErr := waitWithContext(ctx, scheduler.NextDelay(attempt)); waitErr != nil {
			return RetryResult{Attempts: attempt}, waitErr
		}
	}
	return RetryResult{Attempts: maxAttempts}, lastErr
}

func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation,
			goerrors.CategoryBadInput, goerrors.CategoryNotFound:
			return true
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case ErrorProviderNotConfigured, ErrorTokenNotFound, ErrorBadInput, ErrorOAuthStateInvalid:
			return true
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid_client") ||
		strings.Contains(msg, "unauthorized_client") ||
		strings.Contains(msg, "invalid refresh token")
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
