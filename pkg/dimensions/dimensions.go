// Package dimensions holds the deterministic eight-dimension scorer used
// when the extraction pass returns no usable score block, plus the daily
// aggregation that rolls record scores into a vibe score.
package dimensions

import (
	"github.com/vibingu/vibingu/pkg/store"
)

const primaryBase = 65

// subCategoryFloor is the minimum a secondary category lifts its dim to.
const subCategoryFloor = 30

// primaryDim maps a record category to the dimension it scores directly.
var primaryDim = map[string]string{
	store.CategorySleep:    "body",
	store.CategoryDiet:     "body",
	store.CategoryActivity: "body",
	store.CategoryMood:     "mood",
	store.CategorySocial:   "social",
	store.CategoryWork:     "work",
	store.CategoryGrowth:   "growth",
	store.CategoryScreen:   "digital",
	store.CategoryLeisure:  "leisure",
}

// secondaryBonuses are the spill-over effects of a category beyond its
// primary dim. Sub-categories apply these at half strength.
var secondaryBonuses = map[string]map[string]float64{
	store.CategorySleep:    {"mood": 15},
	store.CategoryDiet:     {"mood": 5},
	store.CategoryActivity: {"mood": 15, "leisure": 10},
	store.CategorySocial:   {"mood": 10},
	store.CategoryWork:     {"growth": 10},
	store.CategoryGrowth:   {"mood": 10},
	store.CategoryLeisure:  {"mood": 10},
}

// Score computes the rules-based dimension scores for a single record.
//
// The primary dimension starts at 65; sub-categories lift their dims to at
// least 30 and contribute half their secondary bonuses; metadata then
// micro-adjusts; meaning is a weighted composite floor; everything clamps
// to [0,100].
func Score(category string, subCategories []string, metaData map[string]any) map[string]int {
	scores := make(map[string]float64, len(store.DimensionKeys))
	for _, dim := range store.DimensionKeys {
		scores[dim] = 0
	}

	if dim, ok := primaryDim[category]; ok {
		scores[dim] = primaryBase
	}

	for _, sub := range subCategories {
		dim, ok := primaryDim[sub]
		if !ok || sub == category {
			continue
		}
		if scores[dim] < subCategoryFloor {
			scores[dim] = subCategoryFloor
		}
		for bonusDim, bonus := range secondaryBonuses[sub] {
			scores[bonusDim] += bonus / 2
		}
	}

	for bonusDim, bonus := range secondaryBonuses[category] {
		scores[bonusDim] += bonus
	}

	adjustByMetadata(scores, category, metaData)

	meaning := 0.30*scores["growth"] + 0.20*scores["social"] + 0.20*scores["work"] +
		0.15*scores["leisure"] + 0.15*scores["mood"]
	if meaning > scores["meaning"] {
		scores["meaning"] = meaning
	}

	out := make(map[string]int, len(scores))
	for dim, v := range scores {
		out[dim] = clamp(v)
	}
	return out
}

func adjustByMetadata(scores map[string]float64, category string, meta map[string]any) {
	if meta == nil {
		return
	}
	switch category {
	case store.CategorySleep:
		if hours, ok := numberField(meta, "duration_hours"); ok {
			switch {
			case hours >= 7 && hours <= 9:
				scores["body"] += 20
			case hours < 6:
				scores["body"] -= 10
				scores["mood"] -= 5
			}
		}
		switch stringField(meta, "quality") {
		case "good":
			scores["body"] += 10
			scores["mood"] += 10
		case "poor":
			scores["body"] -= 5
			scores["mood"] -= 10
		}
	case store.CategoryDiet:
		if healthy, ok := meta["is_healthy"].(bool); ok {
			if healthy {
				scores["body"] += 15
			} else {
				scores["body"] -= 5
			}
		}
	case store.CategoryActivity:
		if minutes, ok := numberField(meta, "duration_minutes"); ok && minutes >= 30 {
			scores["body"] += 15
			scores["mood"] += 5
		}
	case store.CategoryScreen:
		if minutes, ok := numberField(meta, "total_minutes"); ok {
			switch {
			case minutes <= 120:
				scores["digital"] += 25
			case minutes >= 360:
				scores["digital"] -= 20
			}
		}
	}
}

func numberField(meta map[string]any, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func stringField(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func clamp(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}
