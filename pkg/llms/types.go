// Package llms speaks the OpenAI-compatible chat/embeddings wire protocol.
//
// Both supported providers (OpenAI, Zhipu) expose this shape; model routing,
// concurrency and retries live a layer up in the gateway.
package llms

import "encoding/json"

// Message is a single chat turn. Content is either a plain string or a list
// of ContentPart for multimodal turns; MarshalJSON picks the right form.
type Message struct {
	Role  string
	Text  string
	Parts []ContentPart
}

// ContentPart is one element of a multimodal user turn.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image as a data URI plus the provider detail hint.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "low", "auto", "high"
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// MarshalJSON emits string content for text-only turns and the parts array
// for multimodal turns.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(wireMessage{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: m.Text})
}

// SystemMessage builds a system turn.
func SystemMessage(text string) Message {
	return Message{Role: "system", Text: text}
}

// UserMessage builds a text-only user turn.
func UserMessage(text string) Message {
	return Message{Role: "user", Text: text}
}

// AssistantMessage builds an assistant turn.
func AssistantMessage(text string) Message {
	return Message{Role: "assistant", Text: text}
}

// VisionMessage builds a user turn carrying prompt text plus one image.
// imageBase64 must already be base64-encoded JPEG/PNG bytes.
func VisionMessage(text, imageBase64, detail string) Message {
	return Message{
		Role: "user",
		Parts: []ContentPart{
			{Type: "text", Text: text},
			{Type: "image_url", ImageURL: &ImageURL{
				URL:    "data:image/jpeg;base64," + imageBase64,
				Detail: detail,
			}},
		},
	}
}

// ResponseFormat requests structured output from the provider.
type ResponseFormat struct {
	Type string `json:"type"` // "json_object"
}

// ChatRequest is the /chat/completions request body.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Usage is the provider token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the non-streaming /chat/completions response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Content returns the first choice's text, "" when the response is empty.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// streamResponse is one SSE data frame of a streaming completion.
type streamResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Stream chunk kinds.
const (
	ChunkText  = "text"
	ChunkDone  = "done"
	ChunkError = "error"
)

// StreamChunk is one unit of a token stream. A stream is zero or more text
// chunks followed by exactly one done or error chunk.
type StreamChunk struct {
	Type  string
	Text  string
	Usage *Usage
	Err   error
}

// EmbeddingRequest is the /embeddings request body.
type EmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// EmbeddingResponse is the /embeddings response.
type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage *Usage `json:"usage"`
}
