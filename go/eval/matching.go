package eval

import "sort"

// matchMode selects which ground-truth boxes a prediction may pair with.
type matchMode int

const (
	// sameClass restricts candidates to ground truth of the prediction's
	// class, the matching used for PR curves and AP.
	sameClass matchMode = iota

	// anyClass admits every ground-truth box, the matching used for
	// confusion matrices and the error taxonomy so misclassified boxes pair
	// with the ground truth they cover.
	anyClass
)

// match holds the outcome of greedy matching for one sample. Indexes refer
// to the slices passed to matchSample.
type match struct {
	// predGT[i] is the ground-truth index matched to prediction i, -1 when
	// unmatched.
	predGT []int

	// predIoU[i] is the IoU with the matched box, 0 when unmatched.
	predIoU []float64

	// gtPred[j] is the prediction index that consumed ground truth j, -1
	// when unmatched.
	gtPred []int
}

// matchSample greedily pairs predictions with ground truth. Predictions are
// walked in confidence-descending order, ties broken by best available IoU
// descending and then by insertion order, so equal-confidence inputs still
// produce a deterministic matching. Each prediction takes the not yet
// matched ground-truth box with the highest IoU among candidates allowed by
// mode, and only when that IoU reaches the threshold. A matched box is
// consumed: no two predictions share a ground truth and no prediction
// matches twice.
func matchSample(gts, preds []Detection, iouThreshold float64, mode matchMode) match {
	m := match{
		predGT:  make([]int, len(preds)),
		predIoU: make([]float64, len(preds)),
		gtPred:  make([]int, len(gts)),
	}
	for i := range m.predGT {
		m.predGT[i] = -1
	}
	for j := range m.gtPred {
		m.gtPred[j] = -1
	}
	if len(preds) == 0 || len(gts) == 0 {
		return m
	}

	ious := iouMatrix(preds, gts)

	best := make([]float64, len(preds))
	for i := range preds {
		for j := range gts {
			if mode == sameClass && gts[j].Class != preds[i].Class {
				continue
			}
			if v := ious.At(i, j); v > best[i] {
				best[i] = v
			}
		}
	}

	order := make([]int, len(preds))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := order[a], order[b]
		if preds[pa].Confidence != preds[pb].Confidence {
			return preds[pa].Confidence > preds[pb].Confidence
		}
		return best[pa] > best[pb]
	})

	for _, pi := range order {
		bestIoU := 0.0
		bestGT := -1
		for j := range gts {
			if m.gtPred[j] != -1 {
				continue
			}
			if mode == sameClass && gts[j].Class != preds[pi].Class {
				continue
			}
			if v := ious.At(pi, j); v > bestIoU {
				bestIoU = v
				bestGT = j
			}
		}
		if bestGT >= 0 && bestIoU >= iouThreshold {
			m.predGT[pi] = bestGT
			m.predIoU[pi] = bestIoU
			m.gtPred[bestGT] = pi
		}
	}
	return m
}
