package eval

import "math"

// mapThresholds are the ten IoU thresholds underlying mAP@50:95.
var mapThresholds = []float64{0.50, 0.55, 0.60, 0.65, 0.70, 0.75, 0.80, 0.85, 0.90, 0.95}

// Options is the operating point of a detection evaluation.
type Options struct {
	IoUThreshold  float64
	ConfThreshold float64
}

// APMetrics holds mean average precision at the standard IoU thresholds.
type APMetrics struct {
	MAP50   float64 `json:"map50"`
	MAP75   float64 `json:"map75"`
	MAP5095 float64 `json:"map50_95"`
}

// PerClassMetrics is the per-class AP breakdown plus precision and recall at
// the requested operating point.
type PerClassMetrics struct {
	ClassName string  `json:"class_name"`
	AP50      float64 `json:"ap50"`
	AP75      float64 `json:"ap75"`
	AP5095    float64 `json:"ap50_95"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// Result is the full evaluation payload for a detection dataset.
type Result struct {
	PRCurves              []PRCurve         `json:"pr_curves"`
	APMetrics             APMetrics         `json:"ap_metrics"`
	PerClassMetrics       []PerClassMetrics `json:"per_class_metrics"`
	ConfusionMatrix       [][]int           `json:"confusion_matrix"`
	ConfusionMatrixLabels []string          `json:"confusion_matrix_labels"`
	IoUThreshold          float64           `json:"iou_threshold"`
	ConfThreshold         float64           `json:"conf_threshold"`
}

// apSummary is one class's AP at the fixed thresholds.
type apSummary struct {
	ap50   float64
	ap75   float64
	ap5095 float64
}

// Evaluate computes the full detection evaluation for one prediction run.
// classNames is the vocabulary from GroupBySample; an empty vocabulary
// yields an empty result with the thresholds echoed back.
func Evaluate(samples []SampleDetections, classNames []string, opts Options) *Result {
	if len(classNames) == 0 {
		return &Result{
			PRCurves:              []PRCurve{},
			PerClassMetrics:       []PerClassMetrics{},
			ConfusionMatrix:       [][]int{},
			ConfusionMatrixLabels: []string{},
			IoUThreshold:          opts.IoUThreshold,
			ConfThreshold:         opts.ConfThreshold,
		}
	}

	curves := prCurves(samples, classNames, opts.IoUThreshold)
	apMetrics, perClassAP := sweepAP(samples, classNames)
	matrix, labels := confusionMatrix(samples, classNames, opts)

	// Per-class precision and recall come from the curve point nearest the
	// confidence threshold so the table matches the plotted operating point.
	opPoint := map[string]PRPoint{}
	for _, curve := range curves {
		if curve.ClassName == "all" || len(curve.Points) == 0 {
			continue
		}
		closest := curve.Points[0]
		for _, p := range curve.Points[1:] {
			if math.Abs(p.Confidence-opts.ConfThreshold) < math.Abs(closest.Confidence-opts.ConfThreshold) {
				closest = p
			}
		}
		opPoint[curve.ClassName] = closest
	}

	perClass := make([]PerClassMetrics, 0, len(classNames))
	for _, name := range classNames {
		pcm := PerClassMetrics{ClassName: name}
		if s, ok := perClassAP[name]; ok {
			pcm.AP50 = s.ap50
			pcm.AP75 = s.ap75
			pcm.AP5095 = s.ap5095
		}
		if p, ok := opPoint[name]; ok {
			pcm.Precision = p.Precision
			pcm.Recall = p.Recall
		}
		perClass = append(perClass, pcm)
	}

	return &Result{
		PRCurves:              curves,
		APMetrics:             apMetrics,
		PerClassMetrics:       perClass,
		ConfusionMatrix:       matrix,
		ConfusionMatrixLabels: labels,
		IoUThreshold:          opts.IoUThreshold,
		ConfThreshold:         opts.ConfThreshold,
	}
}

// prCurves builds the per-class curves at the requested IoU threshold plus
// the aggregate "all" curve, inserted first.
func prCurves(samples []SampleDetections, classNames []string, iouThreshold float64) []PRCurve {
	tagged, gtCounts := tagPredictions(samples, iouThreshold)

	byClass := map[string][]taggedPred{}
	for _, p := range tagged {
		byClass[p.class] = append(byClass[p.class], p)
	}

	curves := []PRCurve{}
	for _, name := range classNames {
		preds := byClass[name]
		nGT := gtCounts[name]
		if nGT == 0 && len(preds) == 0 {
			continue
		}
		points, ap := buildPRCurve(preds, nGT)
		curves = append(curves, PRCurve{ClassName: name, Points: points, AP: ap})
	}

	totalGT := 0
	for _, n := range gtCounts {
		totalGT += n
	}
	if totalGT > 0 || len(tagged) > 0 {
		points, ap := buildPRCurve(tagged, totalGT)
		curves = append([]PRCurve{{ClassName: "all", Points: points, AP: ap}}, curves...)
	}
	return curves
}

// sweepAP computes per-class interpolated AP at each fixed threshold and
// averages into mAP@50, mAP@75, and mAP@50:95. Classes absent from both
// ground truth and predictions are excluded from the mean; a class with
// predictions but no ground truth contributes an AP of 0.
func sweepAP(samples []SampleDetections, classNames []string) (APMetrics, map[string]apSummary) {
	perThreshold := make([]map[string]float64, len(mapThresholds))
	active := map[string]bool{}

	for ti, t := range mapThresholds {
		tagged, gtCounts := tagPredictions(samples, t)
		byClass := map[string][]taggedPred{}
		for _, p := range tagged {
			byClass[p.class] = append(byClass[p.class], p)
		}
		aps := map[string]float64{}
		for _, name := range classNames {
			preds := byClass[name]
			nGT := gtCounts[name]
			if nGT == 0 && len(preds) == 0 {
				continue
			}
			active[name] = true
			aps[name] = classAP(preds, nGT)
		}
		perThreshold[ti] = aps
	}

	summaries := map[string]apSummary{}
	var m APMetrics
	n := 0
	for _, name := range classNames {
		if !active[name] {
			continue
		}
		var s apSummary
		var total float64
		for ti := range mapThresholds {
			ap := perThreshold[ti][name]
			total += ap
			switch ti {
			case 0:
				s.ap50 = ap
			case 5:
				s.ap75 = ap
			}
		}
		s.ap5095 = total / float64(len(mapThresholds))
		summaries[name] = s
		m.MAP50 += s.ap50
		m.MAP75 += s.ap75
		m.MAP5095 += s.ap5095
		n++
	}
	if n > 0 {
		m.MAP50 /= float64(n)
		m.MAP75 /= float64(n)
		m.MAP5095 /= float64(n)
	}
	return m, summaries
}

// confusionMatrix counts matched and unmatched detections at the operating
// point. Matching is class-agnostic so a misclassified box lands in its
// (actual, predicted) cell instead of two background cells. Rows index
// actual classes, columns predicted classes, each with a trailing background
// entry.
func confusionMatrix(samples []SampleDetections, classNames []string, opts Options) ([][]int, []string) {
	idx := map[string]int{}
	for i, name := range classNames {
		idx[name] = i
	}
	n := len(classNames)
	matrix := make([][]int, n+1)
	for i := range matrix {
		matrix[i] = make([]int, n+1)
	}

	for _, s := range samples {
		kept := filterByConfidence(s.Predictions, opts.ConfThreshold)
		m := matchSample(s.GroundTruth, kept, opts.IoUThreshold, anyClass)
		for pi, p := range kept {
			if gi := m.predGT[pi]; gi != -1 {
				matrix[idx[s.GroundTruth[gi].Class]][idx[p.Class]]++
			} else {
				matrix[n][idx[p.Class]]++
			}
		}
		for gi, g := range s.GroundTruth {
			if m.gtPred[gi] == -1 {
				matrix[idx[g.Class]][n]++
			}
		}
	}

	labels := make([]string, 0, n+1)
	labels = append(labels, classNames...)
	labels = append(labels, Background)
	return matrix, labels
}

// ConfusionCellSamples returns the ids of samples contributing at least one
// detection to the (actualClass, predictedClass) confusion cell at the given
// operating point, using the same class-agnostic matching as the matrix.
// Background is interpreted symmetrically: an actual class of background
// selects false positives of predictedClass, a predicted class of background
// selects false negatives of actualClass.
func ConfusionCellSamples(samples []SampleDetections, actualClass, predictedClass string, opts Options) []string {
	ids := []string{}
	for _, s := range samples {
		kept := filterByConfidence(s.Predictions, opts.ConfThreshold)
		m := matchSample(s.GroundTruth, kept, opts.IoUThreshold, anyClass)

		hit := false
		for pi, p := range kept {
			if gi := m.predGT[pi]; gi != -1 {
				hit = s.GroundTruth[gi].Class == actualClass && p.Class == predictedClass
			} else {
				hit = actualClass == Background && p.Class == predictedClass
			}
			if hit {
				break
			}
		}
		if !hit && predictedClass == Background {
			for gi, g := range s.GroundTruth {
				if m.gtPred[gi] == -1 && g.Class == actualClass {
					hit = true
					break
				}
			}
		}
		if hit {
			ids = append(ids, s.SampleID)
		}
	}
	return ids
}
