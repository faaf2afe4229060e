// Package httpclient is the HTTP transport for upstream provider calls.
//
// It deliberately does not retry: the gateway owns the retry loop because a
// retry may re-route to a different model. This package provides the client,
// the typed status errors, and the retryability/backoff rules the gateway
// composes with.
package httpclient

import (
	"net/http"
	"time"
)

// Client wraps http.Client with service-wide defaults.
type Client struct {
	client *http.Client
}

// Option mutates a Client under construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets the per-request timeout. Streaming calls should use a
// client with no timeout and rely on context cancellation instead.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client = &http.Client{
			Timeout:   timeout,
			Transport: c.client.Transport,
		}
	}
}

// New builds a Client. The default timeout is generous because vision calls
// on loaded providers routinely take tens of seconds.
func New(opts ...Option) *Client {
	client := &Client{
		client: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Do executes the request. Non-2xx responses are returned alongside a
// *StatusError so callers can both classify and read the body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	return resp, NewStatusError(resp)
}
