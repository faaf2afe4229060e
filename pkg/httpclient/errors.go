package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError is a non-2xx upstream response. The body is captured (bounded)
// because provider-specific error codes such as Zhipu's 1302 concurrency
// code only appear in the JSON payload, not the HTTP status line.
type StatusError struct {
	StatusCode int
	Body       string
}

const maxErrorBody = 4 * 1024

// NewStatusError drains (a bounded prefix of) the response body into a
// StatusError and closes it.
func NewStatusError(resp *http.Response) *StatusError {
	var body string
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		body = string(b)
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: body}
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Retryable error markers: upstream signals that clear up on their own.
// 1302 is the Zhipu concurrency-exceeded business code.
var retryableMarkers = []string{"429", "1302", "500", "502", "503", "504"}

// Rate-limit markers back off harder than plain server errors.
var rateLimitMarkers = []string{"429", "1302"}

// IsRetryable classifies an error by its textual form, matching the provider
// behavior of surfacing business codes inside message strings.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	for _, marker := range retryableMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether the error is a 429/1302-class rejection.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

const (
	// Backoff bases: rate limits need room to clear, server blips do not.
	rateLimitBaseDelay = 5 * time.Second
	serverErrBaseDelay = 1 * time.Second
	maxBackoffDelay    = 30 * time.Second
)

// BackoffDelay computes the sleep before retry attempt (0-based):
// min(base * 2^attempt, 30s), base 5s for rate limits and 1s otherwise.
func BackoffDelay(err error, attempt int) time.Duration {
	base := serverErrBaseDelay
	if IsRateLimited(err) {
		base = rateLimitBaseDelay
	}
	delay := base << uint(attempt)
	if delay > maxBackoffDelay || delay <= 0 {
		return maxBackoffDelay
	}
	return delay
}

// StatusCode extracts the HTTP status from an error chain, 0 if absent.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
