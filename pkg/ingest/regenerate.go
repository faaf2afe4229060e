package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vibingu/vibingu/pkg/dimensions"
	"github.com/vibingu/vibingu/pkg/extractor"
	"github.com/vibingu/vibingu/pkg/store"
	"github.com/vibingu/vibingu/pkg/tagger"
)

// Regenerable field names accepted by Regenerate.
const (
	RegenTags    = FailedTags
	RegenScores  = FailedScores
	RegenInsight = FailedInsight
)

// ErrBadPhase rejects regeneration requests naming an unknown field.
var ErrBadPhase = errors.New("unknown regeneration phase")

// RegenerateResult reports the updated record plus whatever still failed.
type RegenerateResult struct {
	Record       *store.LifeRecord `json:"record"`
	FailedPhases []string          `json:"failed_phases"`
}

// Regenerate re-runs a subset of enrichment steps against a stored record,
// using its own text, category, metadata and submission time. All field
// updates land in one transaction; the vector entry refreshes afterwards,
// best effort.
func (o *Orchestrator) Regenerate(ctx context.Context, recordID string, phases []string) (*RegenerateResult, error) {
	requested := map[string]bool{}
	for _, p := range phases {
		switch p {
		case RegenTags, RegenScores, RegenInsight:
			requested[p] = true
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadPhase, p)
		}
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: empty phase list", ErrBadPhase)
	}

	rec, err := o.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	nickname, err := o.store.GetSetting(ctx, store.SettingNickname)
	if err != nil {
		slog.Warn("failed to read nickname", "error", err)
	}

	var failed []string

	if requested[RegenInsight] {
		ext, err := o.extractor.Extract(ctx, extractor.Input{
			ImageType:   rec.ImageType,
			Text:        rec.RawContent,
			SubmittedAt: rec.CreatedAt,
			Nickname:    nickname,
			RecordID:    rec.ID,
		}, nil)
		if err != nil {
			slog.Warn("insight regeneration failed", "record_id", rec.ID, "error", err)
			failed = append(failed, FailedInsight)
		} else {
			rec.AIInsight = ext.ReplyText
			if len(ext.MetaData) > 0 {
				rec.MetaData = ext.MetaData
			}
			if ext.RecordTime != nil {
				rec.RecordTime = *ext.RecordTime
			}
			// A fresh extraction may supply scores a degraded first pass
			// never produced.
			if len(rec.Dimensions) == 0 && ext.Dimensions != nil {
				rec.Dimensions = ext.Dimensions
			}
		}
	}

	if requested[RegenTags] {
		tags := o.tagger.Generate(ctx, tagger.Input{
			Text:        rec.RawContent,
			Category:    rec.Category,
			MetaData:    rec.MetaData,
			RecordID:    rec.ID,
			SubmittedAt: rec.CreatedAt,
		}, nil)
		if len(tags) == 0 {
			failed = append(failed, FailedTags)
		} else {
			rec.Tags = tags
		}
	}

	if requested[RegenScores] {
		rec.Dimensions = dimensions.Score(rec.Category, rec.SubCategories, rec.MetaData)
	}

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := o.store.UpdateRecordTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if err := o.indexer.IndexRecord(ctx, rec); err != nil {
		slog.Warn("vector refresh failed", "record_id", rec.ID, "error", err)
	}

	if failed == nil {
		failed = []string{}
	}
	return &RegenerateResult{Record: rec, FailedPhases: failed}, nil
}
