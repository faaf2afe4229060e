package gateway

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced by gateway calls. Callers branch on these to
// pick their degradation path (synthesize, rules fallback, placeholder).
var (
	// ErrConcurrencyExhausted: no permit after upgrade and final wait. The
	// caller's own phase-level retry may try again later.
	ErrConcurrencyExhausted = errors.New("model concurrency exhausted")

	// ErrMaxRetries: the retry budget ran out on retryable failures.
	ErrMaxRetries = errors.New("max retries exceeded")

	// ErrUnretryable wraps upstream failures that will not clear on retry
	// (bad API key, malformed request, non-429 4xx).
	ErrUnretryable = errors.New("unretryable upstream error")

	// ErrParseFailure: JSON mode was requested but the repaired content
	// still did not parse. Consumers treat it like ErrMaxRetries.
	ErrParseFailure = errors.New("response is not parseable as JSON")
)

func unretryable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnretryable, err)
}

func maxRetries(attempts int, last error) error {
	return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, attempts, last)
}
