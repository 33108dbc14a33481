package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited means the shared request window denied admission.
	ErrRateLimited = errors.New("rate limited, try again later")
	// ErrNetwork covers transport level failures: DNS, refused connections, TLS.
	ErrNetwork = errors.New("network error")
	// ErrExhaustedRetries means no strategy succeeded in any attempt.
	ErrExhaustedRetries = errors.New("all bypass strategies failed")
	// ErrExtractionDegraded is diagnostic only; the document was still produced.
	ErrExtractionDegraded = errors.New("extraction fell back to generic selectors")
	ErrCancelled          = errors.New("scrape cancelled")
	ErrInvalidURL         = errors.New("invalid URL")

	// errUnavailable is returned by strategies that cannot run for a target.
	errUnavailable = errors.New("strategy unavailable")
)

// HTTPError is a completed request with a non-2xx status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// FetchError ties a failure to the strategy that produced it.
type FetchError struct {
	Strategy Kind
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrorKind values reported on ScrapeResult.ErrorKind.
const (
	ErrorKindRateLimited      = "rate_limited"
	ErrorKindExhaustedRetries = "exhausted_retries"
	ErrorKindCancelled        = "cancelled"
	ErrorKindInvalidURL       = "invalid_url"
	ErrorKindInternal         = "internal"
)

// KindOf maps a terminal error onto its ErrorKind string.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrExhaustedRetries):
		return ErrorKindExhaustedRetries
	case errors.Is(err, ErrCancelled):
		return ErrorKindCancelled
	case errors.Is(err, ErrInvalidURL):
		return ErrorKindInvalidURL
	default:
		return ErrorKindInternal
	}
}
