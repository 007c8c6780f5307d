package triage

import (
	"sort"

	"github.com/visionlens/visionlens/go/eval"
	"github.com/visionlens/visionlens/go/types"
)

// AnnotationTriage is the per-annotation classification shown in the
// overlay: the auto-computed label merged with any manual override. Both
// labels are kept so the client can show what the override replaced.
type AnnotationTriage struct {
	AnnotationID string   `json:"annotation_id"`
	AutoLabel    string   `json:"auto_label"`
	Label        string   `json:"label"`
	MatchedID    string   `json:"matched_id,omitempty"`
	IoU          *float64 `json:"iou"`
	IsOverride   bool     `json:"is_override"`
}

// Overlay merges the auto-computed matches of one sample with its stored
// overrides. An override replaces the displayed label; the auto label stays
// untouched. Results are ordered by annotation id.
func Overlay(auto map[string]eval.AnnotationMatch, overrides []types.TriageOverride) []AnnotationTriage {
	byAnnotation := make(map[string]types.TriageLabel, len(overrides))
	for _, o := range overrides {
		byAnnotation[o.AnnotationID] = o.Label
	}

	items := make([]AnnotationTriage, 0, len(auto))
	for annotationID, am := range auto {
		item := AnnotationTriage{
			AnnotationID: annotationID,
			AutoLabel:    am.Label,
			Label:        am.Label,
			MatchedID:    am.MatchedID,
			IoU:          am.IoU,
		}
		if label, ok := byAnnotation[annotationID]; ok {
			item.Label = string(label)
			item.IsOverride = true
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].AnnotationID < items[j].AnnotationID
	})
	return items
}
