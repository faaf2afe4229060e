package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vibingu/vibingu/pkg/httpclient"
)

// ErrNoAPIKey is returned by every call when the provider has no credential.
// Callers fall back to their rules/mock paths.
var ErrNoAPIKey = fmt.Errorf("no API key configured")

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	baseURL string
	apiKey  string

	http       *httpclient.Client
	streamHTTP *httpclient.Client
}

// ClientOption mutates a Client under construction.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport used for unary calls.
func WithHTTPClient(c *httpclient.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithStreamHTTPClient replaces the transport used for streaming calls.
func WithStreamHTTPClient(c *httpclient.Client) ClientOption {
	return func(cl *Client) {
		cl.streamHTTP = c
	}
}

// NewClient builds a provider client. An empty apiKey is allowed; calls then
// fail with ErrNoAPIKey so the service can run in degraded mode.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpclient.New(),
		// Streams have no overall deadline; cancellation comes from ctx.
		streamHTTP: httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: 0})),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether upstream credentials are present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ChatCompletion runs a non-streaming completion.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}
	req.Stream = false

	httpResp, err := c.post(ctx, c.http, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat response contained no choices")
	}
	return &resp, nil
}

// StreamChatCompletion runs a streaming completion. The returned channel is
// closed after the terminal done/error chunk. Cancelling ctx aborts the
// stream; the terminal chunk still arrives.
func (c *Client) StreamChatCompletion(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}
	req.Stream = true

	httpResp, err := c.post(ctx, c.streamHTTP, "/chat/completions", req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var usage *Usage
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				break
			}

			var frame streamResponse
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				slog.Debug("skipping malformed stream frame", "error", err)
				continue
			}
			if frame.Usage != nil {
				usage = frame.Usage
			}
			for _, choice := range frame.Choices {
				if choice.Delta.Content != "" {
					select {
					case ch <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content}:
					case <-ctx.Done():
						ch <- StreamChunk{Type: ChunkError, Err: ctx.Err(), Usage: usage}
						return
					}
				}
			}
		}

		if err := scanner.Err(); err != nil {
			ch <- StreamChunk{Type: ChunkError, Err: err, Usage: usage}
			return
		}
		ch <- StreamChunk{Type: ChunkDone, Usage: usage}
	}()

	return ch, nil
}

// Embed returns the embedding vector for a single input text.
func (c *Client) Embed(ctx context.Context, model, input string) ([]float32, *Usage, error) {
	if !c.Configured() {
		return nil, nil, ErrNoAPIKey
	}

	httpResp, err := c.post(ctx, c.http, "/embeddings", EmbeddingRequest{Model: model, Input: input})
	if err != nil {
		return nil, nil, err
	}
	defer httpResp.Body.Close()

	var resp EmbeddingResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil, fmt.Errorf("embedding response contained no data")
	}
	return resp.Data[0].Embedding, resp.Usage, nil
}

func (c *Client) post(ctx context.Context, transport *httpclient.Client, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	start := time.Now()
	resp, err := transport.Do(req)
	if err != nil {
		slog.Debug("upstream call failed", "path", path, "elapsed", time.Since(start), "error", err)
		return nil, err
	}
	return resp, nil
}
