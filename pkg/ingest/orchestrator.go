// Package ingest drives the seven-phase ingestion pipeline: classify the
// image, extract structured data, save the image, tag, score, persist, and
// index. Every phase before persist is independently failable; the record
// commits as long as persist succeeds, and the client receives the list of
// phases that need repair.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vibingu/vibingu/pkg/classifier"
	"github.com/vibingu/vibingu/pkg/dimensions"
	"github.com/vibingu/vibingu/pkg/extractor"
	"github.com/vibingu/vibingu/pkg/imagestore"
	"github.com/vibingu/vibingu/pkg/store"
	"github.com/vibingu/vibingu/pkg/tagger"
)

// MaxImageBytes caps uploads; larger payloads are rejected before any work.
const MaxImageBytes = imagestore.MaxUploadBytes

var (
	ErrEmptyInput      = errors.New("provide text or an image")
	ErrPayloadTooLarge = errors.New("image exceeds the 10 MiB limit")
)

// Request is one ingestion call.
type Request struct {
	Text         string
	Image        []byte
	ImageName    string
	CategoryHint string
	// ClientTime anchors relative time resolution; zero means server now.
	ClientTime time.Time
}

// FeedResponse is the terminal payload of both orchestrator forms.
type FeedResponse struct {
	ID            string         `json:"id"`
	Category      string         `json:"category"`
	MetaData      map[string]any `json:"meta_data"`
	AIInsight     string         `json:"ai_insight"`
	CreatedAt     time.Time      `json:"created_at"`
	RecordTime    time.Time      `json:"record_time"`
	ImageSaved    bool           `json:"image_saved"`
	ImagePath     string         `json:"image_path,omitempty"`
	ThumbnailPath string         `json:"thumbnail_path,omitempty"`
	Tags          []string       `json:"tags"`
	Dimensions    map[string]int `json:"dimension_scores"`
	FailedPhases  []string       `json:"failed_phases"`
}

// Classifier is the stage-1 vision pass.
type Classifier interface {
	Classify(ctx context.Context, imageBase64, textHint string) *classifier.Classification
}

// Extractor is the stage-2 multimodal pass.
type Extractor interface {
	Extract(ctx context.Context, in extractor.Input, onRetry func()) (*extractor.Extraction, error)
}

// TagGenerator is the stage-3 text pass.
type TagGenerator interface {
	Generate(ctx context.Context, in tagger.Input, onRetry func()) []string
}

// ImageSaver persists uploaded originals plus thumbnails.
type ImageSaver interface {
	Save(data []byte, kind, filename string, now time.Time) (*imagestore.Saved, error)
}

// Indexer maintains the vector collection.
type Indexer interface {
	IndexRecord(ctx context.Context, r *store.LifeRecord) error
	RemoveRecord(ctx context.Context, id string) error
}

// Orchestrator owns the pipeline and its collaborators.
type Orchestrator struct {
	store      *store.Store
	classifier Classifier
	extractor  Extractor
	tagger     TagGenerator
	images     ImageSaver
	indexer    Indexer
}

func New(st *store.Store, cls Classifier, ext Extractor, tg TagGenerator, img ImageSaver, ix Indexer) *Orchestrator {
	return &Orchestrator{store: st, classifier: cls, extractor: ext, tagger: tg, images: img, indexer: ix}
}

func validate(req *Request) error {
	if strings.TrimSpace(req.Text) == "" && len(req.Image) == 0 {
		return ErrEmptyInput
	}
	if len(req.Image) > MaxImageBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// Ingest is the request/response form of the pipeline.
func (o *Orchestrator) Ingest(ctx context.Context, req *Request) (*FeedResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	return o.run(ctx, req, func(Event) {})
}

// IngestStream is the streaming form. Validation happens synchronously; the
// returned channel then carries phase events and, finally, either a result
// or an error event. The channel closes when the pipeline finishes.
func (o *Orchestrator) IngestStream(ctx context.Context, req *Request) (<-chan Event, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		emit := func(e Event) {
			select {
			case ch <- e:
			case <-ctx.Done():
			}
		}
		resp, err := o.run(ctx, req, emit)
		if err != nil {
			emit(Event{Type: EventError, Message: err.Error()})
			return
		}
		emit(Event{Type: EventResult, Result: resp})
	}()
	return ch, nil
}

func (o *Orchestrator) run(ctx context.Context, req *Request, emit func(Event)) (*FeedResponse, error) {
	anchor := req.ClientTime
	if anchor.IsZero() {
		anchor = time.Now()
	}
	var failed []string

	// Phase 1: classify.
	var cls *classifier.Classification
	imageBase64 := ""
	inputType := store.InputText
	if len(req.Image) > 0 {
		imageBase64 = base64.StdEncoding.EncodeToString(req.Image)
		emit(phaseEvent(PhaseClassify, StatusStart))
		hint := req.Text
		if hint == "" {
			hint = req.CategoryHint
		}
		cls = o.classifier.Classify(ctx, imageBase64, hint)
		inputType = store.InputImage
		if cls.ImageType == classifier.TypeScreenshot || cls.ImageType == classifier.TypeActivityScreenshot {
			inputType = store.InputScreenshot
		}
		emit(phaseEvent(PhaseClassify, StatusDone))
	}

	nickname, err := o.store.GetSetting(ctx, store.SettingNickname)
	if err != nil {
		slog.Warn("failed to read nickname", "error", err)
	}

	// Phase 2: extract.
	emit(phaseEvent(PhaseExtract, StatusStart))
	in := extractor.Input{
		Text:        req.Text,
		ImageBase64: imageBase64,
		SubmittedAt: anchor,
		Nickname:    nickname,
	}
	if cls != nil {
		in.ImageType = cls.ImageType
		in.ContentHint = cls.ContentHint
	}
	ext, err := o.extractor.Extract(ctx, in, func() { emit(phaseEvent(PhaseExtract, StatusRetry)) })
	if err != nil {
		slog.Warn("extraction failed, synthesizing degraded result", "error", err)
		ext = degradedExtraction(req.Text, err)
		failed = append(failed, FailedInsight)
	}
	emit(phaseEvent(PhaseExtract, StatusDone))

	category := resolveCategory(ext.Category, req.CategoryHint, cls)

	// Phase 3: save image.
	imagePath, thumbPath := "", ""
	if cls != nil && cls.ShouldSaveImage {
		emit(phaseEvent(PhaseImageSave, StatusStart))
		saved, err := o.images.Save(req.Image, cls.ImageType, req.ImageName, time.Now())
		if err != nil {
			slog.Warn("image save failed", "error", err)
			failed = append(failed, FailedImageSave)
		} else {
			imagePath, thumbPath = saved.ImagePath, saved.ThumbnailPath
		}
		emit(phaseEvent(PhaseImageSave, StatusDone))
	}

	rawContent := req.Text
	if rawContent == "" && cls != nil {
		rawContent = cls.ContentHint
	}

	meta := ext.MetaData
	if cls != nil {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["_classification"] = map[string]any{
			"image_type":  cls.ImageType,
			"confidence":  cls.Confidence,
			"should_save": cls.ShouldSaveImage,
		}
	}

	// Phase 4: tag.
	emit(phaseEvent(PhaseTags, StatusStart))
	tags := o.tagger.Generate(ctx, tagger.Input{
		Text:        rawContent,
		Category:    category,
		MetaData:    meta,
		SubmittedAt: anchor,
	}, func() { emit(phaseEvent(PhaseTags, StatusRetry)) })
	if len(tags) == 0 {
		failed = append(failed, FailedTags)
	}
	emit(phaseEvent(PhaseTags, StatusDone))

	// Phase 5: score. Extractor scores win; the rules scorer fills the gap.
	emit(phaseEvent(PhaseScore, StatusStart))
	dims := ext.Dimensions
	if dims == nil {
		dims = dimensions.Score(category, nil, meta)
	}
	emit(phaseEvent(PhaseScore, StatusDone))

	// Phase 6: persist. The only phase whose failure is terminal.
	emit(phaseEvent(PhasePersist, StatusStart))
	rec := &store.LifeRecord{
		RawContent:    rawContent,
		Content:       rawContent,
		AIInsight:     ext.ReplyText,
		Category:      category,
		Tags:          tags,
		Dimensions:    dims,
		MetaData:      meta,
		InputType:     inputType,
		ImagePath:     imagePath,
		ThumbnailPath: thumbPath,
		ImageSaved:    imagePath != "",
		RecordTime:    anchor,
	}
	if cls != nil {
		rec.ImageType = cls.ImageType
	}
	if ext.RecordTime != nil {
		rec.RecordTime = *ext.RecordTime
	}
	if err := o.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	emit(phaseEvent(PhasePersist, StatusDone))

	// Phase 7: post-commit side effects, best effort.
	emit(phaseEvent(PhaseIndex, StatusStart))
	if err := o.indexer.IndexRecord(ctx, rec); err != nil {
		slog.Warn("vector index failed", "record_id", rec.ID, "error", err)
		failed = append(failed, FailedIndex)
	}
	emit(phaseEvent(PhaseIndex, StatusDone))

	return responseFor(rec, failed), nil
}

// Delete soft-deletes a record and removes its vector entry best-effort.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.store.SoftDeleteRecord(ctx, id); err != nil {
		return err
	}
	if err := o.indexer.RemoveRecord(ctx, id); err != nil {
		slog.Warn("vector remove failed", "record_id", id, "error", err)
	}
	return nil
}

func degradedExtraction(rawText string, cause error) *extractor.Extraction {
	reply := rawText
	if reply == "" {
		reply = "已记录"
	}
	return &extractor.Extraction{
		MetaData:  map[string]any{"_ai_error": cause.Error()},
		ReplyText: reply,
	}
}

// resolveCategory picks, in priority order: the extractor's category, the
// caller's hint, the classifier's suggestion, MOOD. Unknown strings never
// pass through.
func resolveCategory(extracted, hint string, cls *classifier.Classification) string {
	if store.ValidCategory(extracted) {
		return extracted
	}
	if h := strings.ToUpper(strings.TrimSpace(hint)); store.ValidCategory(h) {
		return h
	}
	if cls != nil && store.ValidCategory(cls.CategorySuggestion) {
		return cls.CategorySuggestion
	}
	return store.CategoryMood
}

func responseFor(rec *store.LifeRecord, failed []string) *FeedResponse {
	if failed == nil {
		failed = []string{}
	}
	return &FeedResponse{
		ID:            rec.ID,
		Category:      rec.Category,
		MetaData:      rec.MetaData,
		AIInsight:     rec.AIInsight,
		CreatedAt:     rec.CreatedAt,
		RecordTime:    rec.RecordTime,
		ImageSaved:    rec.ImageSaved,
		ImagePath:     rec.ImagePath,
		ThumbnailPath: rec.ThumbnailPath,
		Tags:          rec.Tags,
		Dimensions:    rec.Dimensions,
		FailedPhases:  failed,
	}
}
