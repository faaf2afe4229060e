// Package chat is the RAG chat core: it assembles structured plus semantic
// context for a user utterance, streams the model's reply over a token
// channel, and persists both turns of the exchange.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vibingu/vibingu/pkg/store"
	"github.com/vibingu/vibingu/pkg/vector"
)

// Context budgets in characters. Tighter when history rides along.
const (
	structuredBudget        = 1500
	structuredBudgetHistory = 800
	semanticBudget          = 800
	semanticBudgetHistory   = 500
	semanticTopK            = 5
)

// Searcher is the semantic retrieval slice of the vector indexer.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, category string) ([]vector.SearchHit, error)
}

// Assembler gathers the context blob for one utterance: a data overview,
// keyword-routed structured blocks, and top-K semantic neighbours.
type Assembler struct {
	store  *store.Store
	search Searcher
	loc    *time.Location
}

func NewAssembler(st *store.Store, search Searcher) *Assembler {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &Assembler{store: st, search: search, loc: loc}
}

var categoryLabels = map[string]string{
	store.CategorySleep:    "睡眠",
	store.CategoryDiet:     "饮食",
	store.CategoryActivity: "运动",
	store.CategoryScreen:   "屏幕",
	store.CategoryMood:     "心情",
	store.CategorySocial:   "社交",
	store.CategoryWork:     "工作",
	store.CategoryGrowth:   "成长",
	store.CategoryLeisure:  "休闲",
}

// blockRoutes match lowercased utterance substrings to context builders.
var blockRoutes = []struct {
	name     string
	keywords []string
}{
	{"today", []string{"今天", "今日", "today"}},
	{"week", []string{"本周", "这周", "这一周", "最近一周", "week"}},
	{"month", []string{"本月", "这个月", "这月", "month"}},
	{"extremes", []string{"最好", "最佳", "最高分", "状态最好", "最差", "最低", "最低分", "状态最差", "best", "worst"}},
	{"sleep", []string{"睡眠", "睡觉", "作息", "sleep"}},
	{"mood", []string{"心情", "情绪", "心态", "感觉", "mood"}},
	{"activity", []string{"运动", "锻炼", "健身", "activity"}},
	{"trend", []string{"趋势", "变化", "走向", "trend"}},
}

// Assemble builds the user-turn context for an utterance. It never fails:
// every data source is best-effort and missing pieces are simply absent.
func (a *Assembler) Assemble(ctx context.Context, utterance string, now time.Time, hasHistory bool) string {
	structuredLimit, semanticLimit := structuredBudget, semanticBudget
	if hasHistory {
		structuredLimit, semanticLimit = structuredBudgetHistory, semanticBudgetHistory
	}
	lowered := strings.ToLower(utterance)
	local := now.In(a.loc)

	var blocks []string
	if overview := a.overview(ctx, local); overview != "" {
		blocks = append(blocks, overview)
	}
	for _, route := range blockRoutes {
		if !matchesAny(lowered, route.keywords) {
			continue
		}
		if block := a.buildBlock(ctx, route.name, local); block != "" {
			blocks = append(blocks, truncateRunes(block, structuredLimit))
		}
	}

	if semantic := a.semanticBlock(ctx, utterance, semanticLimit); semantic != "" {
		blocks = append(blocks, semantic)
	}
	return strings.Join(blocks, "\n\n")
}

func matchesAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func (a *Assembler) overview(ctx context.Context, local time.Time) string {
	total, err := a.store.CountActive(ctx)
	if err != nil {
		slog.Warn("overview query failed", "error", err)
		return ""
	}
	week, err := a.store.RecordsBetween(ctx, local.AddDate(0, 0, -7), local)
	if err != nil {
		slog.Warn("overview query failed", "error", err)
		return ""
	}

	counts := map[string]int{}
	for _, r := range week {
		counts[r.Category]++
	}
	var parts []string
	for _, cat := range store.Categories {
		if counts[cat] > 0 {
			parts = append(parts, fmt.Sprintf("%s %d条", categoryLabels[cat], counts[cat]))
		}
	}
	out := fmt.Sprintf("【数据概览】共 %d 条记录，最近7天 %d 条", total, len(week))
	if len(parts) > 0 {
		out += "（" + strings.Join(parts, "，") + "）"
	}
	return out
}

func (a *Assembler) buildBlock(ctx context.Context, name string, local time.Time) string {
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	switch name {
	case "today":
		return a.todayBlock(ctx, dayStart, local)
	case "week":
		return a.dailyMeansBlock(ctx, local, 7, "【本周】")
	case "month":
		return a.monthBlock(ctx, local)
	case "extremes":
		return a.extremesBlock(ctx, local)
	case "sleep":
		return a.sleepBlock(ctx, local)
	case "mood":
		return a.moodBlock(ctx, local)
	case "activity":
		return a.activityBlock(ctx, local)
	case "trend":
		return a.trendBlock(ctx, local)
	}
	return ""
}

func (a *Assembler) todayBlock(ctx context.Context, dayStart, local time.Time) string {
	records, err := a.store.RecordsBetween(ctx, dayStart, local)
	if err != nil || len(records) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "【今日记录】%d 条\n", len(records))
	for _, r := range records {
		line := fmt.Sprintf("- %s [%s] %s", r.RecordTime.In(a.loc).Format("15:04"), categoryLabels[r.Category], r.Content)
		if r.AIInsight != "" {
			line += "｜" + r.AIInsight
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assembler) dailyMeansBlock(ctx context.Context, local time.Time, days int, header string) string {
	records, err := a.store.RecordsBetween(ctx, local.AddDate(0, 0, -days), local)
	if err != nil || len(records) == 0 {
		return ""
	}
	means := dailyMeans(records, a.loc)
	ordered := make([]string, 0, len(means))
	for day := range means {
		ordered = append(ordered, day)
	}
	sort.Strings(ordered)

	var b strings.Builder
	fmt.Fprintf(&b, "%s共 %d 条，每日平均分：\n", header, len(records))
	for _, day := range ordered {
		m := means[day]
		fmt.Fprintf(&b, "- %s: %.1f（%d条）\n", day, m.mean, m.count)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assembler) monthBlock(ctx context.Context, local time.Time) string {
	records, err := a.store.RecordsBetween(ctx, local.AddDate(0, 0, -30), local)
	if err != nil || len(records) == 0 {
		return ""
	}
	sum, n := 0.0, 0
	for _, r := range records {
		if avg, ok := recordMean(r); ok {
			sum += avg
			n++
		}
	}
	out := fmt.Sprintf("【本月】最近30天共 %d 条记录，日均 %.1f 条", len(records), float64(len(records))/30)
	if n > 0 {
		out += fmt.Sprintf("，平均状态分 %.1f", sum/float64(n))
	}
	return out
}

func (a *Assembler) extremesBlock(ctx context.Context, local time.Time) string {
	records, err := a.store.RecordsBetween(ctx, local.AddDate(0, 0, -30), local)
	if err != nil {
		return ""
	}
	means := dailyMeans(records, a.loc)
	if len(means) == 0 {
		return ""
	}
	bestDay, worstDay := "", ""
	bestScore, worstScore := -1.0, 101.0
	for day, m := range means {
		if m.mean > bestScore {
			bestScore, bestDay = m.mean, day
		}
		if m.mean < worstScore {
			worstScore, worstDay = m.mean, day
		}
	}
	return fmt.Sprintf("【状态极值】最近30天最佳：%s（%.1f分）；最低：%s（%.1f分）",
		bestDay, bestScore, worstDay, worstScore)
}

func (a *Assembler) sleepBlock(ctx context.Context, local time.Time) string {
	records := a.categoryRecords(ctx, local, store.CategorySleep, 14)
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "【睡眠】最近14天 %d 条记录\n", len(records))
	for _, r := range records {
		line := "- " + r.RecordTime.In(a.loc).Format("01/02")
		if hours, ok := r.MetaData["duration_hours"].(float64); ok {
			line += fmt.Sprintf(" 时长%.1f小时", hours)
		}
		if quality, ok := r.MetaData["quality"].(string); ok && quality != "" {
			line += " 质量" + quality
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assembler) moodBlock(ctx context.Context, local time.Time) string {
	records := a.categoryRecords(ctx, local, store.CategoryMood, 14)
	if len(records) == 0 {
		return ""
	}
	moods := map[string]int{}
	for _, r := range records {
		for _, tag := range r.Tags {
			switch {
			case strings.Contains(tag, "开心") || strings.Contains(tag, "快乐"):
				moods["开心"]++
			case strings.Contains(tag, "平静") || strings.Contains(tag, "放松"):
				moods["平静"]++
			case strings.Contains(tag, "焦虑") || strings.Contains(tag, "紧张"):
				moods["焦虑"]++
			case strings.Contains(tag, "累") || strings.Contains(tag, "疲惫"):
				moods["疲惫"]++
			}
		}
	}
	out := fmt.Sprintf("【心情】最近14天 %d 条记录", len(records))
	var parts []string
	for _, mood := range []string{"开心", "平静", "焦虑", "疲惫"} {
		if moods[mood] > 0 {
			parts = append(parts, fmt.Sprintf("%s %d次", mood, moods[mood]))
		}
	}
	if len(parts) > 0 {
		out += "：" + strings.Join(parts, "，")
	}
	return out
}

func (a *Assembler) activityBlock(ctx context.Context, local time.Time) string {
	records := a.categoryRecords(ctx, local, store.CategoryActivity, 14)
	if len(records) == 0 {
		return ""
	}
	minutes := 0.0
	for _, r := range records {
		if m, ok := r.MetaData["duration_minutes"].(float64); ok {
			minutes += m
		}
	}
	out := fmt.Sprintf("【运动】最近14天 %d 次，日均 %.1f 次", len(records), float64(len(records))/14)
	if minutes > 0 {
		out += fmt.Sprintf("，累计 %.0f 分钟", minutes)
	}
	return out
}

func (a *Assembler) trendBlock(ctx context.Context, local time.Time) string {
	records, err := a.store.RecordsBetween(ctx, local.AddDate(0, 0, -14), local)
	if err != nil {
		return ""
	}
	means := dailyMeans(records, a.loc)
	if len(means) < 2 {
		return ""
	}
	days := make([]string, 0, len(means))
	for day := range means {
		days = append(days, day)
	}
	sort.Strings(days)

	half := len(days) / 2
	first := meanOf(means, days[:half])
	second := meanOf(means, days[half:])
	diff := second - first
	switch {
	case diff > 3:
		return fmt.Sprintf("【趋势】上升：后半期平均分比前半期高 %.1f 分", diff)
	case diff < -3:
		return fmt.Sprintf("【趋势】下降：后半期平均分比前半期低 %.1f 分", -diff)
	}
	return fmt.Sprintf("【趋势】稳定：前后期平均分差异 %.1f 分", abs(diff))
}

func (a *Assembler) semanticBlock(ctx context.Context, utterance string, limit int) string {
	if a.search == nil {
		return ""
	}
	hits, err := a.search.Search(ctx, utterance, semanticTopK, "")
	if err != nil {
		slog.Warn("semantic retrieval failed", "error", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("【相关记录】\n")
	for i, hit := range hits {
		doc := strings.ReplaceAll(hit.Document, "\n", " ")
		fmt.Fprintf(&b, "[semantic %d] (%s %s) %s\n", i+1, hit.Date, hit.Category, doc)
	}
	return truncateRunes(strings.TrimRight(b.String(), "\n"), limit)
}

func (a *Assembler) categoryRecords(ctx context.Context, local time.Time, category string, days int) []*store.LifeRecord {
	records, err := a.store.RecordsBetween(ctx, local.AddDate(0, 0, -days), local)
	if err != nil {
		slog.Warn("context query failed", "category", category, "error", err)
		return nil
	}
	var out []*store.LifeRecord
	for _, r := range records {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

type dayMean struct {
	mean  float64
	count int
}

// dailyMeans averages each record's dimension mean per local day.
func dailyMeans(records []*store.LifeRecord, loc *time.Location) map[string]dayMean {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range records {
		avg, ok := recordMean(r)
		if !ok {
			continue
		}
		day := r.RecordTime.In(loc).Format("2006-01-02")
		sums[day] += avg
		counts[day]++
	}
	out := make(map[string]dayMean, len(sums))
	for day, sum := range sums {
		out[day] = dayMean{mean: sum / float64(counts[day]), count: counts[day]}
	}
	return out
}

func recordMean(r *store.LifeRecord) (float64, bool) {
	if len(r.Dimensions) == 0 {
		return 0, false
	}
	sum := 0
	for _, v := range r.Dimensions {
		sum += v
	}
	return float64(sum) / float64(len(r.Dimensions)), true
}

func meanOf(means map[string]dayMean, days []string) float64 {
	if len(days) == 0 {
		return 50
	}
	sum := 0.0
	for _, day := range days {
		sum += means[day].mean
	}
	return sum / float64(len(days))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
