package eval

import "sort"

// maxCurvePoints caps PR curve payloads; longer curves are subsampled at
// evenly spaced indices.
const maxCurvePoints = 200

// PRPoint is one operating point on a precision-recall curve.
type PRPoint struct {
	Recall     float64 `json:"recall"`
	Precision  float64 `json:"precision"`
	Confidence float64 `json:"confidence"`
}

// PRCurve is the precision-recall curve for a single class, or for "all",
// the aggregate across classes.
type PRCurve struct {
	ClassName string    `json:"class_name"`
	Points    []PRPoint `json:"points"`
	AP        float64   `json:"ap"`
}

// taggedPred is one prediction after matching, tagged with whether it scored
// a true positive.
type taggedPred struct {
	confidence float64
	isTP       bool
	class      string
}

// tagPredictions matches every sample at the given IoU threshold and returns
// all predictions tagged TP or FP, sorted by confidence descending, plus the
// ground-truth box count per class. No confidence filter is applied: the
// full curve needs every operating point.
func tagPredictions(samples []SampleDetections, iouThreshold float64) ([]taggedPred, map[string]int) {
	gtCounts := map[string]int{}
	var tagged []taggedPred

	for _, s := range samples {
		for _, g := range s.GroundTruth {
			gtCounts[g.Class]++
		}
		if len(s.Predictions) == 0 {
			continue
		}
		m := matchSample(s.GroundTruth, s.Predictions, iouThreshold, sameClass)
		for pi, p := range s.Predictions {
			tagged = append(tagged, taggedPred{
				confidence: p.Confidence,
				isTP:       m.predGT[pi] != -1,
				class:      p.Class,
			})
		}
	}

	sort.SliceStable(tagged, func(i, j int) bool {
		return tagged[i].confidence > tagged[j].confidence
	})
	return tagged, gtCounts
}

// accumulate walks confidence-sorted predictions keeping running TP and FP
// counts and returns the raw recall, precision, and confidence arrays.
func accumulate(preds []taggedPred, nGT int) (recalls, precisions, confidences []float64) {
	recalls = make([]float64, 0, len(preds))
	precisions = make([]float64, 0, len(preds))
	confidences = make([]float64, 0, len(preds))

	tp, fp := 0, 0
	for _, p := range preds {
		if p.isTP {
			tp++
		} else {
			fp++
		}
		recalls = append(recalls, float64(tp)/float64(nGT))
		precisions = append(precisions, float64(tp)/float64(tp+fp))
		confidences = append(confidences, p.confidence)
	}
	return recalls, precisions, confidences
}

// interpolatedAP is the 101-point COCO-style interpolated average precision:
// precision is sampled at recall levels {0, 0.01, ..., 1.00}, taking at each
// level the maximum precision achieved at or beyond it.
func interpolatedAP(recalls, precisions []float64) float64 {
	var sum float64
	for i := 0; i <= 100; i++ {
		r := float64(i) / 100
		best := 0.0
		for j := range recalls {
			if recalls[j] >= r && precisions[j] > best {
				best = precisions[j]
			}
		}
		sum += best
	}
	return sum / 101
}

// buildPRCurve turns confidence-sorted tagged predictions into curve points
// and the interpolated AP. With no predictions or no ground truth there is
// nothing to plot: a single sentinel point (recall 0, precision 1) is
// returned with AP 0.
func buildPRCurve(preds []taggedPred, nGT int) ([]PRPoint, float64) {
	if len(preds) == 0 || nGT == 0 {
		return []PRPoint{{Recall: 0, Precision: 1, Confidence: 1}}, 0
	}

	recalls, precisions, confidences := accumulate(preds, nGT)
	ap := interpolatedAP(recalls, precisions)

	points := make([]PRPoint, 0, maxCurvePoints)
	for _, i := range subsampleIndices(len(recalls), maxCurvePoints) {
		points = append(points, PRPoint{
			Recall:     recalls[i],
			Precision:  precisions[i],
			Confidence: confidences[i],
		})
	}
	return points, ap
}

// classAP is the interpolated AP for one class without materializing curve
// points, used by the mAP sweep.
func classAP(preds []taggedPred, nGT int) float64 {
	if len(preds) == 0 || nGT == 0 {
		return 0
	}
	recalls, precisions, _ := accumulate(preds, nGT)
	return interpolatedAP(recalls, precisions)
}

// subsampleIndices returns up to max evenly spaced indices into a slice of
// length n, always keeping the first and last.
func subsampleIndices(n, max int) []int {
	if n <= max {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, max)
	step := float64(n-1) / float64(max-1)
	for i := range idx {
		idx[i] = int(float64(i) * step)
	}
	idx[max-1] = n - 1
	return idx
}
