package ledger

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text for providers that
// omit the usage block on some responses (streaming endpoints in
// particular). cl100k_base is close enough across the supported models for
// cost estimation; exact accounting always prefers the provider's numbers.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if enc == nil {
		// Offline fallback: ~4 bytes per token for mixed CJK/ASCII text.
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
