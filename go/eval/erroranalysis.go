package eval

import "sort"

// ErrorType classifies a single detection.
type ErrorType string

const (
	TruePositive  ErrorType = "tp"
	HardFP        ErrorType = "hard_fp"
	LabelError    ErrorType = "label_error"
	FalseNegative ErrorType = "false_negative"
)

// maxSamplesPerType caps the preview lists in the error analysis payload.
// Aggregate counters are never capped.
const maxSamplesPerType = 50

// ErrorSample notes one detection of a given error type for preview lists.
type ErrorSample struct {
	SampleID     string    `json:"sample_id"`
	ErrorType    ErrorType `json:"error_type"`
	CategoryName string    `json:"category_name"`

	// Confidence is null for false negatives and for predictions whose
	// source row carried no confidence.
	Confidence *float64 `json:"confidence"`
}

// PerClassErrors is the error breakdown for a single class. Prediction
// outcomes count under the predicted class, false negatives under the
// ground-truth class.
type PerClassErrors struct {
	ClassName  string `json:"class_name"`
	TP         int    `json:"tp"`
	HardFP     int    `json:"hard_fp"`
	LabelError int    `json:"label_error"`
	FN         int    `json:"fn"`
}

// ErrorSummary aggregates error counts across all classes.
type ErrorSummary struct {
	TruePositives      int `json:"true_positives"`
	HardFalsePositives int `json:"hard_false_positives"`
	LabelErrors        int `json:"label_errors"`
	FalseNegatives     int `json:"false_negatives"`
}

// ErrorAnalysis is the full error analysis payload.
type ErrorAnalysis struct {
	Summary       ErrorSummary                `json:"summary"`
	PerClass      []PerClassErrors            `json:"per_class"`
	SamplesByType map[ErrorType][]ErrorSample `json:"samples_by_type"`
}

// PredOutcome is the categorization of one prediction after matching.
type PredOutcome struct {
	Pred Detection
	Type ErrorType

	// MatchedGT indexes the sample's ground truth, -1 when unmatched.
	MatchedGT int

	// IoU with the matched box, 0 when unmatched.
	IoU float64
}

// SampleOutcome is the per-detection categorization of one sample at an
// operating point. Predictions below the confidence threshold are dropped.
type SampleOutcome struct {
	SampleID string
	Preds    []PredOutcome

	// MissedGT holds the indexes of ground-truth boxes no prediction
	// consumed, the sample's false negatives.
	MissedGT []int
}

// CategorizeSample labels every qualifying prediction of one sample as true
// positive, label error, or hard false positive, and reports the ground
// truth left unmatched. Matching is class-agnostic: a prediction covering a
// ground-truth box of a different class consumes it as a label error, so
// that box cannot also count as a false negative.
func CategorizeSample(s SampleDetections, iouThreshold, confThreshold float64) SampleOutcome {
	kept := filterByConfidence(s.Predictions, confThreshold)
	m := matchSample(s.GroundTruth, kept, iouThreshold, anyClass)

	out := SampleOutcome{
		SampleID: s.SampleID,
		Preds:    make([]PredOutcome, 0, len(kept)),
	}
	for pi, p := range kept {
		po := PredOutcome{Pred: p, Type: HardFP, MatchedGT: -1}
		if gi := m.predGT[pi]; gi != -1 {
			po.MatchedGT = gi
			po.IoU = m.predIoU[pi]
			if s.GroundTruth[gi].Class == p.Class {
				po.Type = TruePositive
			} else {
				po.Type = LabelError
			}
		}
		out.Preds = append(out.Preds, po)
	}
	for gi := range s.GroundTruth {
		if m.gtPred[gi] == -1 {
			out.MissedGT = append(out.MissedGT, gi)
		}
	}
	return out
}

// CategorizeErrors buckets every detection in the dataset by error type and
// aggregates totals and per-class counts. The per-type sample lists are
// preview payloads capped at maxSamplesPerType entries each; the counters
// cover everything.
func CategorizeErrors(samples []SampleDetections, iouThreshold, confThreshold float64) *ErrorAnalysis {
	analysis := &ErrorAnalysis{
		SamplesByType: map[ErrorType][]ErrorSample{
			TruePositive:  {},
			HardFP:        {},
			LabelError:    {},
			FalseNegative: {},
		},
	}

	perClass := map[string]*PerClassErrors{}
	classFor := func(name string) *PerClassErrors {
		c, ok := perClass[name]
		if !ok {
			c = &PerClassErrors{ClassName: name}
			perClass[name] = c
		}
		return c
	}
	collect := func(es ErrorSample) {
		if len(analysis.SamplesByType[es.ErrorType]) < maxSamplesPerType {
			analysis.SamplesByType[es.ErrorType] = append(analysis.SamplesByType[es.ErrorType], es)
		}
	}

	for _, s := range samples {
		out := CategorizeSample(s, iouThreshold, confThreshold)
		for _, po := range out.Preds {
			switch po.Type {
			case TruePositive:
				analysis.Summary.TruePositives++
				classFor(po.Pred.Class).TP++
			case LabelError:
				analysis.Summary.LabelErrors++
				classFor(po.Pred.Class).LabelError++
			default:
				analysis.Summary.HardFalsePositives++
				classFor(po.Pred.Class).HardFP++
			}
			collect(ErrorSample{
				SampleID:     s.SampleID,
				ErrorType:    po.Type,
				CategoryName: po.Pred.Class,
				Confidence:   confidenceOf(po.Pred),
			})
		}
		for _, gi := range out.MissedGT {
			g := s.GroundTruth[gi]
			analysis.Summary.FalseNegatives++
			classFor(g.Class).FN++
			collect(ErrorSample{
				SampleID:     s.SampleID,
				ErrorType:    FalseNegative,
				CategoryName: g.Class,
			})
		}
	}

	names := make([]string, 0, len(perClass))
	for name := range perClass {
		names = append(names, name)
	}
	sort.Strings(names)
	analysis.PerClass = make([]PerClassErrors, 0, len(names))
	for _, name := range names {
		analysis.PerClass = append(analysis.PerClass, *perClass[name])
	}
	return analysis
}

// SampleErrorStats aggregates the errored detections of one sample for
// worst-image scoring.
type SampleErrorStats struct {
	SampleID string

	// ErrorCount is every non-TP detection: hard false positives, label
	// errors, and false negatives. Unlike the preview lists this is never
	// capped.
	ErrorCount int

	// Confidences holds the confidence of each errored prediction that
	// carried one; false negatives contribute nothing.
	Confidences []float64
}

// PerSampleErrorStats categorizes every sample at the operating point and
// returns stats for those with at least one error.
func PerSampleErrorStats(samples []SampleDetections, iouThreshold, confThreshold float64) []SampleErrorStats {
	stats := make([]SampleErrorStats, 0, len(samples))
	for _, s := range samples {
		out := CategorizeSample(s, iouThreshold, confThreshold)
		st := SampleErrorStats{SampleID: s.SampleID}
		for _, po := range out.Preds {
			if po.Type == TruePositive {
				continue
			}
			st.ErrorCount++
			if po.Pred.HasConfidence {
				st.Confidences = append(st.Confidences, po.Pred.Confidence)
			}
		}
		st.ErrorCount += len(out.MissedGT)
		if st.ErrorCount > 0 {
			stats = append(stats, st)
		}
	}
	return stats
}

// confidenceOf round-trips the original null when the row carried no score.
func confidenceOf(d Detection) *float64 {
	if !d.HasConfidence {
		return nil
	}
	c := d.Confidence
	return &c
}
