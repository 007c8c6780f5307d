// Package eval compares a prediction run against ground truth. It implements
// greedy IoU matching, precision-recall curves with 101-point interpolated
// average precision, mAP at the standard IoU thresholds, confusion matrices,
// a per-detection error taxonomy, and label-equality metrics for
// classification datasets.
//
// All functions are pure: callers load annotation rows from the store, group
// them with GroupBySample, and pass the result in. Evaluation is
// deterministic for fixed inputs.
package eval

import (
	"sort"

	"github.com/visionlens/visionlens/go/types"
)

// Background is the reserved confusion matrix label for unmatched rows and
// columns.
const Background = "background"

// Box is an axis-aligned rectangle in absolute pixel coordinates, stored as
// the top-left corner plus width and height.
type Box struct {
	X float64
	Y float64
	W float64
	H float64
}

// Detection is a single ground-truth or predicted box.
type Detection struct {
	// AnnotationID is empty when the caller does not need results mapped
	// back to annotation rows.
	AnnotationID string
	SampleID     string
	Class        string
	Box          Box

	// Confidence is 1.0 when the source row carried none.
	Confidence float64

	// HasConfidence records whether the source row carried a confidence, so
	// payloads can round-trip the original null.
	HasConfidence bool
}

// SampleDetections pairs the ground truth and predictions of one sample.
type SampleDetections struct {
	SampleID    string
	GroundTruth []Detection
	Predictions []Detection
}

// FromAnnotation converts a stored annotation row into a Detection.
func FromAnnotation(a types.Annotation) Detection {
	d := Detection{
		AnnotationID: a.ID,
		SampleID:     a.SampleID,
		Class:        a.CategoryName,
		Box:          Box{X: a.BboxX, Y: a.BboxY, W: a.BboxW, H: a.BboxH},
		Confidence:   1.0,
	}
	if a.Confidence != nil {
		d.Confidence = *a.Confidence
		d.HasConfidence = true
	}
	return d
}

// GroupBySample pairs ground-truth and prediction annotations per sample and
// returns the class vocabulary, the sorted union of category names seen in
// either set. Samples are ordered by sample id so evaluation output is stable
// across runs.
func GroupBySample(groundTruth, predictions []types.Annotation) ([]SampleDetections, []string) {
	bySample := map[string]*SampleDetections{}
	classes := map[string]bool{}

	get := func(sampleID string) *SampleDetections {
		s, ok := bySample[sampleID]
		if !ok {
			s = &SampleDetections{SampleID: sampleID}
			bySample[sampleID] = s
		}
		return s
	}

	for _, a := range groundTruth {
		s := get(a.SampleID)
		s.GroundTruth = append(s.GroundTruth, FromAnnotation(a))
		classes[a.CategoryName] = true
	}
	for _, a := range predictions {
		s := get(a.SampleID)
		s.Predictions = append(s.Predictions, FromAnnotation(a))
		classes[a.CategoryName] = true
	}

	sampleIDs := make([]string, 0, len(bySample))
	for id := range bySample {
		sampleIDs = append(sampleIDs, id)
	}
	sort.Strings(sampleIDs)

	samples := make([]SampleDetections, 0, len(sampleIDs))
	for _, id := range sampleIDs {
		samples = append(samples, *bySample[id])
	}

	classNames := make([]string, 0, len(classes))
	for c := range classes {
		classNames = append(classNames, c)
	}
	sort.Strings(classNames)

	return samples, classNames
}

// filterByConfidence returns the predictions at or above the threshold,
// preserving input order.
func filterByConfidence(preds []Detection, confThreshold float64) []Detection {
	kept := make([]Detection, 0, len(preds))
	for _, p := range preds {
		if p.Confidence >= confThreshold {
			kept = append(kept, p)
		}
	}
	return kept
}
