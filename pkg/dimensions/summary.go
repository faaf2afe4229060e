package dimensions

import (
	"math"
	"time"

	"github.com/vibingu/vibingu/pkg/store"
)

// defaultDimensionScore is assumed for a dim with no scored records that day.
const defaultDimensionScore = 50

// vibeWeights weight each dimension's daily average into the vibe score.
var vibeWeights = map[string]float64{
	"body":    0.15,
	"mood":    0.15,
	"social":  0.12,
	"work":    0.13,
	"growth":  0.12,
	"meaning": 0.10,
	"digital": 0.11,
	"leisure": 0.12,
}

// DimensionStat is one dimension's daily aggregate.
type DimensionStat struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	RecordCount int     `json:"record_count"`
}

// DailySummary rolls one day's records into per-dimension averages and a
// single weighted vibe score.
type DailySummary struct {
	Date        string                   `json:"date"`
	VibeScore   float64                  `json:"vibe_score"`
	Dimensions  map[string]DimensionStat `json:"dimensions"`
	RecordCount int                      `json:"record_count"`
}

// dimensionNames are the display names, keyed like store.DimensionKeys.
var dimensionNames = map[string]string{
	"body":    "身体",
	"mood":    "心情",
	"social":  "社交",
	"work":    "工作",
	"growth":  "成长",
	"meaning": "意义",
	"digital": "数字",
	"leisure": "休闲",
}

// Summarize aggregates the given records (expected to be one day's worth)
// into a DailySummary. Zero scores are treated as "no signal" and excluded
// from the averages.
func Summarize(records []store.LifeRecord, date time.Time) DailySummary {
	totals := make(map[string][]int, len(store.DimensionKeys))
	for _, rec := range records {
		for dim, score := range rec.Dimensions {
			if _, known := dimensionNames[dim]; known && score > 0 {
				totals[dim] = append(totals[dim], score)
			}
		}
	}

	dims := make(map[string]DimensionStat, len(store.DimensionKeys))
	vibe := 0.0
	for _, dim := range store.DimensionKeys {
		scores := totals[dim]
		avg := float64(defaultDimensionScore)
		if len(scores) > 0 {
			sum := 0
			for _, s := range scores {
				sum += s
			}
			avg = float64(sum) / float64(len(scores))
		}
		avg = round1(avg)
		dims[dim] = DimensionStat{
			Name:        dimensionNames[dim],
			Score:       avg,
			RecordCount: len(scores),
		}
		vibe += avg * vibeWeights[dim]
	}

	return DailySummary{
		Date:        date.Format("2006-01-02"),
		VibeScore:   round1(vibe),
		Dimensions:  dims,
		RecordCount: len(records),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
