package eval

// Auto labels produced by MatchAnnotations. The triage overlay merges these
// with manual overrides at read time.
const (
	AutoTP         = "tp"
	AutoFP         = "fp"
	AutoFN         = "fn"
	AutoLabelError = "label_error"
)

// AnnotationMatch is the auto-computed triage outcome for one annotation.
type AnnotationMatch struct {
	Label string

	// MatchedID is the annotation id of the counterpart box, empty when
	// unmatched.
	MatchedID string

	// IoU with the counterpart, nil when unmatched.
	IoU *float64
}

// MatchAnnotations classifies every annotation of one sample for the triage
// overlay, keyed by annotation id. Predictions below the confidence
// threshold get no entry. Matched predictions are labelled tp or
// label_error, unmatched ones fp. A matched ground-truth box is labelled tp
// even when the prediction disagreed on class, the label error belongs to
// the prediction; unmatched ground truth is labelled fn.
func MatchAnnotations(groundTruth, predictions []Detection, iouThreshold, confThreshold float64) map[string]AnnotationMatch {
	kept := filterByConfidence(predictions, confThreshold)
	m := matchSample(groundTruth, kept, iouThreshold, anyClass)

	results := make(map[string]AnnotationMatch, len(kept)+len(groundTruth))
	for pi, p := range kept {
		am := AnnotationMatch{Label: AutoFP}
		if gi := m.predGT[pi]; gi != -1 {
			if groundTruth[gi].Class == p.Class {
				am.Label = AutoTP
			} else {
				am.Label = AutoLabelError
			}
			am.MatchedID = groundTruth[gi].AnnotationID
			iou := m.predIoU[pi]
			am.IoU = &iou
		}
		results[p.AnnotationID] = am
	}
	for gi, g := range groundTruth {
		am := AnnotationMatch{Label: AutoFN}
		if pi := m.gtPred[gi]; pi != -1 {
			am.Label = AutoTP
			am.MatchedID = kept[pi].AnnotationID
			iou := m.predIoU[pi]
			am.IoU = &iou
		}
		results[g.AnnotationID] = am
	}
	return results
}
