package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibingu/vibingu/pkg/httpclient"
)

func TestMessageMarshal(t *testing.T) {
	b, err := json.Marshal(UserMessage("hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hello"}`, string(b))

	b, err = json.Marshal(VisionMessage("what is this", "aGVsbG8=", "low"))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	parts, ok := m["content"].([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", img["url"])
	assert.Equal(t, "low", img["detail"])
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "glm-4.7-flash", req["model"])

		fmt.Fprint(w, `{
			"id": "cmpl-1", "model": "glm-4.7-flash",
			"choices": [{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	resp, err := c.ChatCompletion(context.Background(), ChatRequest{
		Model:    "glm-4.7-flash",
		Messages: []Message{UserMessage("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content())
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChatCompletion_NoAPIKey(t *testing.T) {
	c := NewClient("http://unused", "")
	_, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = c.StreamChatCompletion(context.Background(), ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, _, err = c.Embed(context.Background(), "m", "text")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestChatCompletion_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"code": "429", "message": "rate limit"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, httpclient.IsRetryable(err))
	assert.Equal(t, http.StatusTooManyRequests, httpclient.StatusCode(err))
}

func TestStreamChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{"content":""},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	ch, err := c.StreamChatCompletion(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)

	var text string
	var last StreamChunk
	for chunk := range ch {
		last = chunk
		if chunk.Type == ChunkText {
			text += chunk.Text
		}
	}
	assert.Equal(t, "Hello", text)
	assert.Equal(t, ChunkDone, last.Type)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 7, last.Usage.TotalTokens)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3],"index":0}],"model":"embedding-3","usage":{"prompt_tokens":4,"total_tokens":4}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	vec, usage, err := c.Embed(context.Background(), "embedding-3", "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 4, usage.TotalTokens)
}
