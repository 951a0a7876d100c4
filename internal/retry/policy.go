// Package retry provides the bounded exponential-backoff policy shared by the
// upload and dispatch clients.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ashureev/patchbot/internal/domain"
)

// Config defines the shape of a retry loop.
type Config struct {
	MaxAttempts int           // including the first attempt
	BaseDelay   time.Duration // delay after the first failure
	MaxDelay    time.Duration // cap on any single delay
}

// Classifier reports whether an attempt error is worth another attempt.
type Classifier func(error) bool

// Policy is one retry loop configuration. The zero value is not usable; build
// it with NewPolicy.
type Policy struct {
	Config     Config
	Classifier Classifier

	// AttemptTimeout returns the deadline of attempt n (1-based). Nil means
	// attempts inherit the caller's context as is.
	AttemptTimeout func(attempt int) time.Duration

	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, delay time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a policy. A nil classifier defaults to Transient.
func NewPolicy(cfg Config, classifier Classifier) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if classifier == nil {
		classifier = Transient
	}
	return &Policy{
		Config:     cfg,
		Classifier: classifier,
		sleep:      sleepContext,
	}
}

// LinearTimeout returns an AttemptTimeout of base + step*(n-1).
func LinearTimeout(base, step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base + step*time.Duration(attempt-1)
	}
}

// Delay is the pause after failed attempt n: BaseDelay doubled per attempt,
// capped at MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := p.Config.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.Config.MaxDelay > 0 && delay >= p.Config.MaxDelay {
			return p.Config.MaxDelay
		}
	}
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		return p.Config.MaxDelay
	}
	return delay
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. It returns the number of attempts made and the last
// error. Cancellation of ctx stops the loop at once.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.Config.MaxAttempts; attempt++ {
		lastErr = p.attempt(ctx, attempt, fn)
		if lastErr == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		}
		if !p.Classifier(lastErr) || attempt == p.Config.MaxAttempts {
			return attempt, lastErr
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return attempt, fmt.Errorf("%w: %w", err, lastErr)
		}
	}
	return p.Config.MaxAttempts, lastErr
}

func (p *Policy) attempt(ctx context.Context, n int, fn func(context.Context, int) error) error {
	if p.AttemptTimeout == nil {
		return fn(ctx, n)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout(n))
	defer cancel()
	return fn(actx, n)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HTTPStatusError is a response with an unexpected status code.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Transient is the default classifier: timeouts, network failures and the
// transient HTTP statuses are retried, everything else is not.
func Transient(err error) bool {
	switch Kind(err) {
	case domain.RemoteTimeout, domain.RemoteNetwork:
		return true
	case domain.RemoteHTTPStatus:
		var statusErr *HTTPStatusError
		errors.As(err, &statusErr)
		return TransientStatus(statusErr.StatusCode)
	}
	return false
}

// Kind classifies an attempt error.
func Kind(err error) domain.RemoteErrorKind {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return domain.RemoteHTTPStatus
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.RemoteTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.RemoteTimeout
	}
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) || netErr != nil {
		return domain.RemoteNetwork
	}
	return domain.RemoteProtocol
}

// RemoteError wraps the final error of a loop into the shape callers see.
func RemoteError(service string, attempts int, err error) *domain.RemoteError {
	var remote *domain.RemoteError
	if errors.As(err, &remote) {
		return remote
	}
	out := &domain.RemoteError{
		Service:  service,
		Kind:     Kind(err),
		Attempts: attempts,
		Message:  err.Error(),
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		out.StatusCode = statusErr.StatusCode
		out.Message = statusErr.Body
	}
	return out
}
