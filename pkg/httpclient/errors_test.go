package httpclient

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{StatusCode: 429, Body: "rate limited"}, true},
		{"500", &StatusError{StatusCode: 500}, true},
		{"502", &StatusError{StatusCode: 502}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"504", &StatusError{StatusCode: 504}, true},
		{"zhipu 1302 in body", &StatusError{StatusCode: 400, Body: `{"error":{"code":"1302","message":"并发数超限"}}`}, true},
		{"plain 400", &StatusError{StatusCode: 400, Body: "bad request"}, false},
		{"401 invalid key", &StatusError{StatusCode: 401, Body: "invalid api key"}, false},
		{"wrapped", fmt.Errorf("call failed: %w", &StatusError{StatusCode: 503}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	rateLimited := &StatusError{StatusCode: 429}
	serverErr := &StatusError{StatusCode: 500}

	// 429-class: 5s, 10s, 20s, then capped.
	assert.Equal(t, 5*time.Second, BackoffDelay(rateLimited, 0))
	assert.Equal(t, 10*time.Second, BackoffDelay(rateLimited, 1))
	assert.Equal(t, 20*time.Second, BackoffDelay(rateLimited, 2))
	assert.Equal(t, 30*time.Second, BackoffDelay(rateLimited, 3))

	// Server errors: 1s, 2s, 4s.
	assert.Equal(t, 1*time.Second, BackoffDelay(serverErr, 0))
	assert.Equal(t, 2*time.Second, BackoffDelay(serverErr, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(serverErr, 2))

	// Huge attempt numbers stay capped instead of overflowing.
	assert.Equal(t, 30*time.Second, BackoffDelay(rateLimited, 40))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 429, StatusCode(fmt.Errorf("wrap: %w", &StatusError{StatusCode: 429})))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
	assert.Equal(t, 0, StatusCode(nil))
}
