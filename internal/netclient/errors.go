package netclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/helixir/paper-harvester/internal/domain"
)

var (
	// ErrPermanent marks a definitive negative answer from the target.
	ErrPermanent = fmt.Errorf("permanent failure: %w", domain.ErrNotFound)

	// ErrProxyExhausted means every proxy tried within one call failed.
	ErrProxyExhausted = errors.New("proxy swaps exhausted")

	// ErrChallenge means the target served an anti-bot challenge page.
	ErrChallenge = errors.New("anti-bot challenge")
)

// TransientError is a failure worth retrying later.
type TransientError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient failure fetching %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure fetching %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a TransientError or a rate limit.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, domain.ErrRateLimited)
}

// RetryAfter returns the server-advised delay carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

func permanent(url string, status int) error {
	return fmt.Errorf("fetch %s: status %d: %w", url, status, ErrPermanent)
}
