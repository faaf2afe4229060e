// Package extractor is the second AI pass of ingestion: given the classified
// image kind plus the user's text, it produces the record's category,
// structured metadata, a short reply, the actual event time, and an optional
// dimension score block.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vibingu/vibingu/pkg/gateway"
	"github.com/vibingu/vibingu/pkg/jsonrepair"
	"github.com/vibingu/vibingu/pkg/ledger"
	"github.com/vibingu/vibingu/pkg/llms"
	"github.com/vibingu/vibingu/pkg/store"
)

// minValidDimensions: a score block with fewer valid dims than this is
// discarded and the rules scorer takes over.
const minValidDimensions = 4

// Input is one extraction request.
type Input struct {
	ImageType   string
	ImageBase64 string
	Text        string
	ContentHint string
	// SubmittedAt anchors "today"/"yesterday" resolution.
	SubmittedAt time.Time
	Nickname    string
	RecordID    string
}

// Extraction is the parsed model output.
type Extraction struct {
	Category   string
	MetaData   map[string]any
	ReplyText  string
	RecordTime *time.Time
	// Dimensions is nil when the model returned fewer than four valid dims.
	Dimensions map[string]int
}

// Completer is the gateway slice the extractor needs.
type Completer interface {
	ChatComplete(ctx context.Context, messages []llms.Message, opts gateway.CallOptions) (*gateway.Result, error)
	Roster() gateway.Roster
	Configured() bool
}

// Extractor drives the extraction prompt family.
type Extractor struct {
	gw  Completer
	loc *time.Location
}

func New(gw Completer) *Extractor {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &Extractor{gw: gw, loc: loc}
}

// Extract runs the extraction with one automatic retry on failure. onRetry
// (may be nil) fires before the second attempt, letting the orchestrator
// surface a progress event. After the second failure the error is returned
// and the orchestrator synthesizes a degraded result.
func (e *Extractor) Extract(ctx context.Context, in Input, onRetry func()) (*Extraction, error) {
	if !e.gw.Configured() {
		return nil, llms.ErrNoAPIKey
	}

	out, err := e.attempt(ctx, in)
	if err == nil {
		return out, nil
	}
	slog.Warn("extraction failed, retrying once", "image_type", in.ImageType, "error", err)
	if onRetry != nil {
		onRetry()
	}
	return e.attempt(ctx, in)
}

// wireExtraction mirrors the JSON contract in the prompts.
type wireExtraction struct {
	Category   string         `json:"category"`
	MetaData   map[string]any `json:"meta_data"`
	ReplyText  string         `json:"reply_text"`
	RecordTime string         `json:"record_time"`
	Dimensions map[string]any `json:"dimension_scores"`
}

func (e *Extractor) attempt(ctx context.Context, in Input) (*Extraction, error) {
	hasImage := in.ImageBase64 != ""
	system := preamble(in.Nickname, in.SubmittedAt, e.loc) + systemPromptFor(in.ImageType, hasImage)

	userText := "请分析并记录。"
	if in.Text != "" {
		userText = "用户说明: " + in.Text
	} else if in.ContentHint != "" {
		userText = "图片内容提示: " + in.ContentHint
	}

	messages := []llms.Message{llms.SystemMessage(system)}
	opts := gateway.CallOptions{
		JSON:      true,
		MaxTokens: 1000,
		TaskTag:   ledger.TaskExtractData,
		RecordID:  in.RecordID,
	}
	if hasImage {
		// Extraction reads numbers off screenshots; it needs full detail.
		messages = append(messages, llms.VisionMessage(userText, in.ImageBase64, "high"))
		opts.Model = e.gw.Roster().VisionFlash
	} else {
		messages = append(messages, llms.UserMessage(userText))
	}

	result, err := e.gw.ChatComplete(ctx, messages, opts)
	if err != nil {
		return nil, err
	}

	var wire wireExtraction
	if err := jsonrepair.Decode(result.Content, &wire); err != nil {
		return nil, fmt.Errorf("extraction returned unusable JSON: %w", err)
	}
	return e.normalize(&wire, in), nil
}

func (e *Extractor) normalize(wire *wireExtraction, in Input) *Extraction {
	out := &Extraction{
		MetaData:  wire.MetaData,
		ReplyText: wire.ReplyText,
	}
	if store.ValidCategory(wire.Category) {
		out.Category = wire.Category
	}
	if out.ReplyText == "" {
		out.ReplyText = "已记录"
	}
	out.RecordTime = ParseRecordTime(wire.RecordTime, in.SubmittedAt, e.loc)
	out.Dimensions = validateDimensions(wire.Dimensions)
	return out
}

// validateDimensions clamps values to [0,100] and discards the whole block
// when fewer than four known dims survive.
func validateDimensions(raw map[string]any) map[string]int {
	if raw == nil {
		return nil
	}
	scores := make(map[string]int, len(store.DimensionKeys))
	for _, key := range store.DimensionKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		switch {
		case f < 0:
			f = 0
		case f > 100:
			f = 100
		}
		scores[key] = int(f)
	}
	if len(scores) < minValidDimensions {
		return nil
	}
	return scores
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
