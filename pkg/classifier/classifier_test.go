package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibingu/vibingu/pkg/gateway"
	"github.com/vibingu/vibingu/pkg/llms"
)

type fakeGateway struct {
	configured bool
	content    string
	err        error

	lastMessages []llms.Message
	lastOpts     gateway.CallOptions
}

func (f *fakeGateway) ChatComplete(_ context.Context, messages []llms.Message, opts gateway.CallOptions) (*gateway.Result, error) {
	f.lastMessages = messages
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Result{Content: f.content, Model: opts.Model}, nil
}

func (f *fakeGateway) Roster() gateway.Roster {
	return gateway.Roster{VisionFlash: "glm-4.6v-flash", Vision: "glm-4.6v"}
}

func (f *fakeGateway) Configured() bool { return f.configured }

func TestClassify_Food(t *testing.T) {
	gw := &fakeGateway{
		configured: true,
		content: `{"image_type": "food", "should_save_image": true,
            "save_reason": "有纪念价值", "content_hint": "一份鸡胸肉沙拉",
            "confidence": 0.92, "category_suggestion": "DIET"}`,
	}
	cls := New(gw).Classify(context.Background(), "base64data", "午餐")

	assert.Equal(t, TypeFood, cls.ImageType)
	assert.True(t, cls.ShouldSaveImage)
	assert.Equal(t, "DIET", cls.CategorySuggestion)
	assert.InDelta(t, 0.92, cls.Confidence, 1e-9)
	assert.False(t, cls.Degraded)

	// Flash vision model, low detail, JSON mode.
	assert.Equal(t, "glm-4.6v-flash", gw.lastOpts.Model)
	assert.True(t, gw.lastOpts.JSON)
	assert.Equal(t, 500, gw.lastOpts.MaxTokens)
	require.Len(t, gw.lastMessages, 2)
	assert.Equal(t, "system", gw.lastMessages[0].Role)
	require.Len(t, gw.lastMessages[1].Parts, 2)
	assert.Equal(t, "low", gw.lastMessages[1].Parts[1].ImageURL.Detail)
	assert.Contains(t, gw.lastMessages[1].Parts[0].Text, "午餐")
}

func TestClassify_ScreenshotNeverSaved(t *testing.T) {
	gw := &fakeGateway{
		configured: true,
		content: `{"image_type": "sleep_screenshot", "should_save_image": true,
            "content_hint": "睡眠记录", "confidence": 0.8, "category_suggestion": "SLEEP"}`,
	}
	cls := New(gw).Classify(context.Background(), "img", "")

	// The model asked to save a screenshot; policy overrides it.
	assert.Equal(t, TypeSleepScreenshot, cls.ImageType)
	assert.False(t, cls.ShouldSaveImage)
	assert.Empty(t, cls.SaveReason)
}

func TestClassify_UnknownLabelNormalized(t *testing.T) {
	gw := &fakeGateway{
		configured: true,
		content:    `{"image_type": "hologram", "confidence": 3.5, "category_suggestion": "SPACE"}`,
	}
	cls := New(gw).Classify(context.Background(), "img", "")

	assert.Equal(t, TypeOther, cls.ImageType)
	assert.Equal(t, "MOOD", cls.CategorySuggestion)
	assert.InDelta(t, 0.5, cls.Confidence, 1e-9)
}

func TestClassify_FencedJSONRepaired(t *testing.T) {
	gw := &fakeGateway{
		configured: true,
		content:    "```json\n{\"image_type\": \"scenery\", \"should_save_image\": true, \"category_suggestion\": \"MOOD\", \"confidence\": 0.7}\n```",
	}
	cls := New(gw).Classify(context.Background(), "img", "")
	assert.Equal(t, TypeScenery, cls.ImageType)
	assert.True(t, cls.ShouldSaveImage)
}

func TestClassify_ErrorKeepsOriginal(t *testing.T) {
	gw := &fakeGateway{configured: true, err: errors.New("upstream down")}
	cls := New(gw).Classify(context.Background(), "img", "海边日落")

	assert.Equal(t, TypeOther, cls.ImageType)
	assert.True(t, cls.ShouldSaveImage, "a failed classification must not discard the image")
	assert.Equal(t, "海边日落", cls.ContentHint)
	assert.True(t, cls.Degraded)
	assert.Zero(t, cls.Confidence)
}

func TestClassify_UnconfiguredHeuristic(t *testing.T) {
	gw := &fakeGateway{configured: false}
	c := New(gw)
	ctx := context.Background()

	cls := c.Classify(ctx, "img", "昨晚的睡眠记录")
	assert.Equal(t, TypeSleepScreenshot, cls.ImageType)
	assert.Equal(t, "SLEEP", cls.CategorySuggestion)
	assert.False(t, cls.ShouldSaveImage)

	cls = c.Classify(ctx, "img", "今天的咖啡")
	assert.Equal(t, TypeFood, cls.ImageType)
	assert.Equal(t, "DIET", cls.CategorySuggestion)
	assert.True(t, cls.ShouldSaveImage)

	cls = c.Classify(ctx, "img", "")
	assert.Equal(t, TypeOther, cls.ImageType)
	assert.Equal(t, "图片", cls.ContentHint)

	// The gateway must not have been called.
	assert.Nil(t, gw.lastMessages)
}

func TestIsScreenshotType(t *testing.T) {
	assert.True(t, IsScreenshotType(TypeScreenshot))
	assert.True(t, IsScreenshotType(TypeSleepScreenshot))
	assert.True(t, IsScreenshotType(TypeActivityScreenshot))
	assert.False(t, IsScreenshotType(TypeFood))
	assert.False(t, IsScreenshotType(TypeOther))
}
