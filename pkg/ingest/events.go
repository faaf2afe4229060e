package ingest

import (
	"encoding/json"
	"fmt"
)

// Pipeline phase identifiers, also used on the progress stream.
const (
	PhaseClassify  = "classify"
	PhaseExtract   = "extract"
	PhaseImageSave = "image_save"
	PhaseTags      = "tags"
	PhaseScore     = "dimension_scores"
	PhasePersist   = "persist"
	PhaseIndex     = "rag_index"
)

// Phase event statuses.
const (
	StatusStart = "start"
	StatusRetry = "retry"
	StatusDone  = "done"
)

// Failed-phase markers reported to the client. Extraction failures surface
// as ai_insight since that is the field the client would regenerate.
const (
	FailedInsight   = "ai_insight"
	FailedImageSave = "image_save"
	FailedTags      = "tags"
	FailedScores    = "dimension_scores"
	FailedIndex     = "rag_index"
)

var phaseLabels = map[string]string{
	PhaseClassify:  "识别图片",
	PhaseExtract:   "理解内容",
	PhaseImageSave: "保存图片",
	PhaseTags:      "生成标签",
	PhaseScore:     "计算维度",
	PhasePersist:   "写入记录",
	PhaseIndex:     "建立索引",
}

// Event types on the ingestion progress stream.
const (
	EventPhase  = "phase"
	EventResult = "result"
	EventError  = "error"
)

// Event is one frame of the ingestion progress stream. Result events carry
// the FeedResponse flattened into the same JSON object.
type Event struct {
	Type    string
	Phase   string
	Status  string
	Label   string
	Message string
	Result  *FeedResponse
}

func phaseEvent(phase, status string) Event {
	return Event{Type: EventPhase, Phase: phase, Status: status, Label: phaseLabels[phase]}
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventResult:
		body, err := json.Marshal(e.Result)
		if err != nil {
			return nil, err
		}
		return append([]byte(`{"type":"result",`), body[1:]...), nil
	case EventError:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{e.Type, e.Message})
	case EventPhase:
		return json.Marshal(struct {
			Type   string `json:"type"`
			Phase  string `json:"phase"`
			Status string `json:"status"`
			Label  string `json:"label,omitempty"`
		}{e.Type, e.Phase, e.Status, e.Label})
	}
	return nil, fmt.Errorf("unknown event type %q", e.Type)
}
