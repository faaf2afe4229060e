// Package tagger generates the retrieval tags for a life record: three to
// six content tags of the form #category/leaf, plus exactly one
// #time/<period> tag derived from the submission clock. Tag generation never
// fails; a deterministic rules path covers every model failure.
package tagger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/vibingu/vibingu/pkg/gateway"
	"github.com/vibingu/vibingu/pkg/ledger"
	"github.com/vibingu/vibingu/pkg/llms"
	"github.com/vibingu/vibingu/pkg/store"
)

const (
	maxTags       = 8
	trendingDays  = 7
	trendingLimit = 10
	tagsMaxTokens = 300
)

// tagRe is the canonical tag shape: #category/leaf, no spaces, one slash.
var tagRe = regexp.MustCompile(`^#[\p{L}\p{N}_-]+/[\p{L}\p{N}_-]+$`)

// Period maps an hour of day to its time-tag slot.
func Period(t time.Time) string {
	switch hour := t.Hour(); {
	case hour >= 5 && hour < 9:
		return "morning"
	case hour >= 9 && hour < 12:
		return "forenoon"
	case hour >= 12 && hour < 14:
		return "noon"
	case hour >= 14 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 19:
		return "dusk"
	case hour >= 19 && hour < 22:
		return "evening"
	case hour >= 22:
		return "late"
	default:
		return "predawn"
	}
}

// TimeTag returns the mandatory #time/<period> tag for a submission instant.
func TimeTag(t time.Time, loc *time.Location) string {
	return "#time/" + Period(t.In(loc))
}

// categoryTags seed the rules fallback with one tag per record category.
var categoryTags = map[string]string{
	store.CategorySleep:    "#sleep/睡眠",
	store.CategoryDiet:     "#diet/进食",
	store.CategoryActivity: "#activity/运动",
	store.CategoryScreen:   "#screen/屏幕",
	store.CategoryMood:     "#mood/记录",
	store.CategorySocial:   "#social/互动",
	store.CategoryWork:     "#work/任务",
	store.CategoryGrowth:   "#growth/学习",
	store.CategoryLeisure:  "#leisure/娱乐",
}

// keywordTags are matched as substrings of the raw text in the rules path.
var keywordTags = []struct {
	keyword string
	tag     string
}{
	{"咖啡", "#diet/咖啡"},
	{"跑步", "#activity/跑步"},
	{"健身", "#activity/健身"},
	{"书", "#leisure/阅读"},
	{"电影", "#leisure/电影"},
	{"游戏", "#leisure/游戏"},
	{"开心", "#mood/开心"},
	{"累", "#mood/疲惫"},
	{"会议", "#work/会议"},
	{"学习", "#growth/学习"},
}

const systemPromptFmt = `你是一个智能标签生成器。根据用户的生活记录，生成相关的标签。

标签格式：#类别/标签名，类别使用英文，标签名可用中文。

可用类别：
- sleep: 睡眠、补觉、午睡等
- diet: 早餐、午餐、晚餐、零食、咖啡等
- activity: 跑步、健身、散步、瑜伽等
- screen: 屏幕时间、社交媒体、刷手机等
- mood: 开心、平静、焦虑、满足、压力等
- social: 独处、家人、朋友、同事等
- work: 会议、专注、创作、加班等
- growth: 阅读、学习、技能、反思等
- leisure: 电影、音乐、游戏、旅行等

用户最近常用标签：%s

规则：
1. 生成 3-6 个最相关、最有信息量的标签
2. 优先复用用户已有标签，但可以创建新的有意义的标签
3. 标签应该有助于未来检索和分析
4. 不要生成 time 类别的标签，时间标签由系统补充

只返回 JSON 数组，如：["#diet/咖啡", "#mood/平静"]`

// TrendingSource supplies recently used tags to stabilise the vocabulary.
type TrendingSource interface {
	TrendingTags(ctx context.Context, since time.Time, limit int) ([]store.TagCount, error)
}

// Completer is the gateway slice the tagger needs.
type Completer interface {
	ChatComplete(ctx context.Context, messages []llms.Message, opts gateway.CallOptions) (*gateway.Result, error)
	Configured() bool
}

// Input is one tag generation request.
type Input struct {
	Text     string
	Category string
	MetaData map[string]any
	RecordID string
	// SubmittedAt anchors the time tag.
	SubmittedAt time.Time
}

type Tagger struct {
	gw     Completer
	trends TrendingSource
	loc    *time.Location
}

// New builds a tagger. trends may be nil; the prompt then runs unprimed.
func New(gw Completer, trends TrendingSource) *Tagger {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &Tagger{gw: gw, trends: trends, loc: loc}
}

// Generate returns the tag set for a record. It never returns an error: the
// model path gets one retry (onRetry, may be nil, fires before the second
// attempt), then the rules path takes over.
func (t *Tagger) Generate(ctx context.Context, in Input, onRetry func()) []string {
	timeTag := TimeTag(in.SubmittedAt, t.loc)

	if !t.gw.Configured() {
		return t.rulesTags(in, timeTag)
	}

	tags, err := t.attempt(ctx, in)
	if err != nil {
		slog.Warn("tag generation failed, retrying once", "record_id", in.RecordID, "error", err)
		if onRetry != nil {
			onRetry()
		}
		tags, err = t.attempt(ctx, in)
	}
	if err != nil {
		slog.Warn("tag generation failed twice, using rules", "record_id", in.RecordID, "error", err)
		return t.rulesTags(in, timeTag)
	}
	return finalize(timeTag, tags)
}

func (t *Tagger) attempt(ctx context.Context, in Input) ([]string, error) {
	trending := "无"
	if t.trends != nil {
		since := in.SubmittedAt.AddDate(0, 0, -trendingDays)
		if counts, err := t.trends.TrendingTags(ctx, since, trendingLimit); err == nil && len(counts) > 0 {
			names := make([]string, len(counts))
			for i, c := range counts {
				names[i] = c.Tag
			}
			trending = strings.Join(names, ", ")
		}
	}

	meta := "无"
	if len(in.MetaData) > 0 {
		if b, err := json.Marshal(in.MetaData); err == nil {
			meta = string(b)
		}
	}
	category := in.Category
	if category == "" {
		category = "未知"
	}
	text := in.Text
	if text == "" {
		text = "无"
	}
	user := fmt.Sprintf("分类：%s\n内容：%s\n元数据：%s\n\n请生成标签，只输出JSON数组：", category, text, meta)

	result, err := t.gw.ChatComplete(ctx, []llms.Message{
		llms.SystemMessage(fmt.Sprintf(systemPromptFmt, trending)),
		llms.UserMessage(user),
	}, gateway.CallOptions{
		JSON:      true,
		MaxTokens: tagsMaxTokens,
		TaskTag:   ledger.TaskGenerateTags,
		RecordID:  in.RecordID,
	})
	if err != nil {
		return nil, err
	}
	tags, ok := decodeTags(result.Data)
	if !ok {
		return nil, fmt.Errorf("tagger returned unusable payload: %.80s", result.Content)
	}
	return tags, nil
}

// decodeTags accepts either a bare array or a {"tags": [...]} wrapper.
func decodeTags(data any) ([]string, bool) {
	switch v := data.(type) {
	case []any:
		return stringSlice(v), true
	case map[string]any:
		if inner, ok := v["tags"].([]any); ok {
			return stringSlice(inner), true
		}
	}
	return nil, false
}

func stringSlice(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// finalize enforces the tag contract: the time tag comes first and is the
// only #time/* entry, every tag matches #category/leaf, duplicates are
// dropped, and the total is capped.
func finalize(timeTag string, raw []string) []string {
	tags := []string{timeTag}
	seen := map[string]bool{timeTag: true}
	for _, tag := range raw {
		tag = normalizeTag(tag)
		if tag == "" || seen[tag] || strings.HasPrefix(tag, "#time/") {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

// normalizeTag trims whitespace, restores a missing #, lowercases the
// category half, and rejects anything that does not fit #category/leaf.
func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	cat, leaf, ok := strings.Cut(tag[1:], "/")
	if !ok {
		return ""
	}
	tag = "#" + strings.ToLower(cat) + "/" + leaf
	if !tagRe.MatchString(tag) {
		return ""
	}
	return tag
}

// rulesTags is the deterministic fallback: time tag, category tag, keyword
// matches from the text.
func (t *Tagger) rulesTags(in Input, timeTag string) []string {
	tags := []string{timeTag}
	if ct, ok := categoryTags[in.Category]; ok {
		tags = append(tags, ct)
	}
	seen := map[string]bool{}
	for _, tag := range tags {
		seen[tag] = true
	}
	for _, kw := range keywordTags {
		if len(tags) >= 6 {
			break
		}
		if strings.Contains(in.Text, kw.keyword) && !seen[kw.tag] {
			seen[kw.tag] = true
			tags = append(tags, kw.tag)
		}
	}
	return tags
}
