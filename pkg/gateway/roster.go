package gateway

import "github.com/vibingu/vibingu/pkg/config"

// Roster maps the service's model roles to concrete provider model names.
type Roster struct {
	Vision      string
	VisionFlash string
	Text        string
	TextFlash   string
	Smart       string
	Embedding   string
}

// RosterFromConfig resolves the roster from configuration.
func RosterFromConfig(ai config.AIConfig) Roster {
	return Roster{
		Vision:      ai.VisionModel,
		VisionFlash: ai.SimpleVisionModel,
		Text:        ai.TextModel,
		TextFlash:   ai.SimpleTextModel,
		Smart:       ai.SmartModel,
		Embedding:   ai.EmbeddingModel,
	}
}

// UpgradeTarget returns the premium sibling of a flash model, "" when the
// model has no upgrade. Upgrades are ephemeral per call, not sticky.
func (r Roster) UpgradeTarget(model string) string {
	switch model {
	case r.VisionFlash:
		if r.Vision != model {
			return r.Vision
		}
	case r.TextFlash:
		if r.Text != model {
			return r.Text
		}
	}
	return ""
}

// FallbackTarget returns the cheaper sibling used after repeated failures,
// "" when the model has no fallback. Embeddings never fall back.
func (r Roster) FallbackTarget(model string) string {
	switch model {
	case r.Vision:
		if r.VisionFlash != model {
			return r.VisionFlash
		}
	case r.Text, r.Smart:
		if r.TextFlash != model {
			return r.TextFlash
		}
	}
	return ""
}

// DefaultLimits is the static per-model in-flight ceiling table. Flash
// tiers allow a single request; premium tiers and embeddings are roomier.
func (r Roster) DefaultLimits() map[string]int64 {
	limits := make(map[string]int64, 5)
	limits[r.VisionFlash] = 1
	limits[r.TextFlash] = 1
	limits[r.Vision] = 10
	limits[r.Text] = 3
	limits[r.Embedding] = 50
	return limits
}
