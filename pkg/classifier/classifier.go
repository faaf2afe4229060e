// Package classifier is the first vision pass over an uploaded image: it
// labels the image type, decides whether the original is worth keeping, and
// suggests a life category for downstream extraction.
package classifier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vibingu/vibingu/pkg/gateway"
	"github.com/vibingu/vibingu/pkg/jsonrepair"
	"github.com/vibingu/vibingu/pkg/ledger"
	"github.com/vibingu/vibingu/pkg/llms"
)

// Image type labels. Screenshot types carry data, not memories, so their
// originals are discarded after extraction.
const (
	TypeScreenshot         = "screenshot"
	TypeSleepScreenshot    = "sleep_screenshot"
	TypeFood               = "food"
	TypeActivityScreenshot = "activity_screenshot"
	TypeActivityPhoto      = "activity_photo"
	TypeScenery            = "scenery"
	TypeSelfie             = "selfie"
	TypeOther              = "other"
)

// imageTypes maps every known label to whether the original image should be
// kept by default.
var imageTypes = map[string]bool{
	TypeScreenshot:         false,
	TypeSleepScreenshot:    false,
	TypeFood:               true,
	TypeActivityScreenshot: false,
	TypeActivityPhoto:      true,
	TypeScenery:            true,
	TypeSelfie:             true,
	TypeOther:              false,
}

// IsScreenshotType reports whether the label is one of the screenshot kinds.
func IsScreenshotType(imageType string) bool {
	switch imageType {
	case TypeScreenshot, TypeSleepScreenshot, TypeActivityScreenshot:
		return true
	}
	return false
}

var validSuggestions = map[string]bool{
	"SLEEP": true, "DIET": true, "SCREEN": true, "ACTIVITY": true, "MOOD": true,
}

// Classification is the outcome of the vision pass.
type Classification struct {
	ImageType          string  `json:"image_type"`
	ShouldSaveImage    bool    `json:"should_save_image"`
	SaveReason         string  `json:"save_reason,omitempty"`
	ContentHint        string  `json:"content_hint"`
	Confidence         float64 `json:"confidence"`
	CategorySuggestion string  `json:"category_suggestion"`
	// Degraded marks a fallback result after a failed vision call.
	Degraded bool `json:"-"`
}

const systemPrompt = `你是一个图片分类专家。请分析用户上传的图片，判断：

1. **图片类型** (image_type)：
   - screenshot: 一般屏幕截图（如屏幕时间、App 使用统计等）
   - sleep_screenshot: 睡眠数据截图（如 iPhone 健康 App 睡眠记录、Sleep Cycle 等睡眠 App 截图）
   - food: 美食照片（实拍的食物、餐厅、饮品等）
   - activity_screenshot: 运动数据截图（如跑步 App 截图、健身记录截图）
   - activity_photo: 户外运动实拍照片（如跑步途中风景、健身房自拍）
   - scenery: 风景照片
   - selfie: 自拍
   - other: 其他类型

2. **是否值得保存原图** (should_save_image)：
   - 截图类（screenshot, sleep_screenshot, activity_screenshot）→ false（数据提取后不需要原图）
   - 实拍照片（food, activity_photo, scenery, selfie）→ true（有纪念价值）
   - 其他 → false

3. **内容描述** (content_hint)：简要描述图片内容

4. **推荐分类** (category_suggestion)：
   - SLEEP: 睡眠相关（包括睡眠截图、睡眠记录等）
   - DIET: 饮食相关
   - SCREEN: 屏幕时间相关
   - ACTIVITY: 运动活动相关
   - MOOD: 情绪/其他

请以 JSON 格式输出：
{
    "image_type": "screenshot|sleep_screenshot|food|activity_screenshot|activity_photo|scenery|selfie|other",
    "should_save_image": true|false,
    "save_reason": "原因说明（如果保存）",
    "content_hint": "图片内容简述",
    "confidence": 0.0-1.0,
    "category_suggestion": "SLEEP|DIET|SCREEN|ACTIVITY|MOOD"
}`

// Completer is the gateway slice the classifier needs.
type Completer interface {
	ChatComplete(ctx context.Context, messages []llms.Message, opts gateway.CallOptions) (*gateway.Result, error)
	Roster() gateway.Roster
	Configured() bool
}

// Classifier labels uploaded images through the flash vision model.
type Classifier struct {
	gw Completer
}

func New(gw Completer) *Classifier {
	return &Classifier{gw: gw}
}

// Classify runs the vision pass. It never fails the pipeline: without
// credentials it falls back to a text-hint heuristic, and on upstream errors
// it returns a degraded result that keeps the original image.
func (c *Classifier) Classify(ctx context.Context, imageBase64, textHint string) *Classification {
	if !c.gw.Configured() {
		return c.heuristic(textHint)
	}

	userText := "请分析这张图片："
	if textHint != "" {
		userText = "用户说明: " + textHint + "\n请分析这张图片："
	}
	messages := []llms.Message{
		llms.SystemMessage(systemPrompt),
		llms.VisionMessage(userText, imageBase64, "low"),
	}

	result, err := c.gw.ChatComplete(ctx, messages, gateway.CallOptions{
		Model:     c.gw.Roster().VisionFlash,
		JSON:      true,
		MaxTokens: 500,
		TaskTag:   ledger.TaskClassifyImage,
	})
	if err != nil {
		slog.Warn("image classification failed, keeping original", "error", err)
		return degraded(textHint)
	}

	var cls Classification
	if err := jsonrepair.Decode(result.Content, &cls); err != nil {
		slog.Warn("image classification returned unusable JSON", "error", err)
		return degraded(textHint)
	}
	return normalize(&cls)
}

// normalize enforces the label vocabulary and the screenshot save policy.
func normalize(cls *Classification) *Classification {
	if _, known := imageTypes[cls.ImageType]; !known {
		cls.ImageType = TypeOther
	}
	if IsScreenshotType(cls.ImageType) {
		cls.ShouldSaveImage = false
		cls.SaveReason = ""
	}
	if !validSuggestions[cls.CategorySuggestion] {
		cls.CategorySuggestion = "MOOD"
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		cls.Confidence = 0.5
	}
	return cls
}

// degraded is the failure fallback: type unknown, but the original is kept
// so nothing is lost to a transient model outage.
func degraded(textHint string) *Classification {
	hint := textHint
	if hint == "" {
		hint = "图片"
	}
	return &Classification{
		ImageType:          TypeOther,
		ShouldSaveImage:    true,
		ContentHint:        hint,
		Confidence:         0,
		CategorySuggestion: "MOOD",
		Degraded:           true,
	}
}

// heuristic guesses from the text hint alone, used when no API key is
// configured.
func (c *Classifier) heuristic(textHint string) *Classification {
	cls := &Classification{
		ImageType:          TypeOther,
		CategorySuggestion: "MOOD",
		ContentHint:        textHint,
		Confidence:         0.5,
		Degraded:           true,
	}
	if cls.ContentHint == "" {
		cls.ContentHint = "图片"
	}

	hint := strings.ToLower(textHint)
	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(hint, w) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("睡眠", "sleep", "睡觉", "起床", "入睡", "wake"):
		cls.ImageType = TypeSleepScreenshot
		cls.CategorySuggestion = "SLEEP"
	case contains("屏幕", "screen", "使用时间", "app"):
		cls.ImageType = TypeScreenshot
		cls.CategorySuggestion = "SCREEN"
	case contains("吃", "喝", "美食", "food", "餐", "咖啡"):
		cls.ImageType = TypeFood
		cls.CategorySuggestion = "DIET"
		cls.ShouldSaveImage = true
		cls.SaveReason = "美食照片有纪念价值"
	case contains("运动", "跑步", "健身", "run"):
		cls.ImageType = TypeActivityScreenshot
		cls.CategorySuggestion = "ACTIVITY"
	}
	return cls
}
