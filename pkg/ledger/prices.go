// Package ledger is the append-only record of upstream AI usage.
//
// Every gateway attempt that returns a usage block lands here, keyed by the
// concrete model used. Writes are best-effort: a ledger failure is logged
// and never propagated to the caller.
package ledger

import "strings"

// Model buckets for aggregation.
const (
	BucketVision     = "vision"
	BucketVisionFree = "vision_free"
	BucketText       = "text"
	BucketTextFree   = "text_free"
	BucketSmart      = "smart"
	BucketEmbedding  = "embedding"
	BucketOther      = "other"
)

// Task tags attached to ledger rows.
const (
	TaskParseInput      = "parse_input"
	TaskClassifyImage   = "classify_image"
	TaskExtractData     = "extract_data"
	TaskGenerateTags    = "generate_tags"
	TaskGenerateInsight = "generate_insight"
	TaskRAGQuery        = "rag_query"
	TaskChat            = "chat"
	TaskEmbedding       = "embedding"
	TaskOther           = "other"
)

// Price is USD per 1K tokens.
type Price struct {
	Input  float64
	Output float64
}

// Prices keys are matched by substring against the concrete model name.
// Zhipu rates are RMB prices converted with the rate below; both the table
// and the rate are overridable at construction.
var defaultPrices = map[string]Price{
	// OpenAI
	"gpt-4o-mini":            {Input: 0.00015, Output: 0.0006},
	"gpt-4o":                 {Input: 0.005, Output: 0.015},
	"gpt-3.5-turbo":          {Input: 0.0005, Output: 0.0015},
	"text-embedding-3-small": {Input: 0.00002, Output: 0},
	// Zhipu, paid tier (¥0.05/1K tokens)
	"glm-4.7-flash":  {Input: 0, Output: 0},
	"glm-4.6v-flash": {Input: 0, Output: 0},
	"glm-4.7":        {Input: 0.007, Output: 0.007},
	"glm-4.6v":       {Input: 0.007, Output: 0.007},
	"embedding-3":    {Input: 0.00007, Output: 0},
}

// DefaultRMBToUSD is the hard conversion used to express Zhipu pricing in
// USD. Kept here, not scattered through the table.
const DefaultRMBToUSD = 0.14

var defaultFallbackPrice = Price{Input: 0.001, Output: 0.002}

// PriceTable resolves model names to rates. The zero value is unusable; use
// NewPriceTable.
type PriceTable struct {
	prices   map[string]Price
	fallback Price
}

// NewPriceTable returns the built-in table. overrides (may be nil) replace
// or add entries.
func NewPriceTable(overrides map[string]Price) *PriceTable {
	prices := make(map[string]Price, len(defaultPrices)+len(overrides))
	for k, v := range defaultPrices {
		prices[k] = v
	}
	for k, v := range overrides {
		prices[k] = v
	}
	return &PriceTable{prices: prices, fallback: defaultFallbackPrice}
}

// Cost estimates USD for one call: (prompt/1000)*in + (completion/1000)*out.
// Longer keys match first so "gpt-4o-mini" is not shadowed by "gpt-4o".
func (t *PriceTable) Cost(model string, promptTokens, completionTokens int) float64 {
	price := t.fallback
	model = strings.ToLower(model)

	bestLen := 0
	for key, p := range t.prices {
		if strings.Contains(model, key) && len(key) > bestLen {
			price = p
			bestLen = len(key)
		}
	}

	return float64(promptTokens)/1000*price.Input + float64(completionTokens)/1000*price.Output
}

// BucketFor classifies a concrete model name into a ledger bucket by
// substring matching.
func BucketFor(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "embedding"):
		return BucketEmbedding
	case strings.Contains(m, "4.6v") || strings.Contains(m, "vision") || strings.Contains(m, "4o"):
		if strings.Contains(m, "flash") || strings.Contains(m, "mini") {
			return BucketVisionFree
		}
		return BucketVision
	case strings.Contains(m, "flash"):
		return BucketTextFree
	case m == "":
		return BucketOther
	default:
		return BucketText
	}
}
