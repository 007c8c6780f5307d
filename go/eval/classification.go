package eval

import (
	"math"
	"sort"

	"github.com/visionlens/visionlens/go/types"
)

// ClassificationPerClass holds per-class precision, recall, F1, and support
// for a classification dataset.
type ClassificationPerClass struct {
	ClassName string  `json:"class_name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationResult is the full classification evaluation payload.
type ClassificationResult struct {
	Accuracy              float64                  `json:"accuracy"`
	MacroF1               float64                  `json:"macro_f1"`
	WeightedF1            float64                  `json:"weighted_f1"`
	PerClassMetrics       []ClassificationPerClass `json:"per_class_metrics"`
	ConfusionMatrix       [][]int                  `json:"confusion_matrix"`
	ConfusionMatrixLabels []string                 `json:"confusion_matrix_labels"`
	ConfThreshold         float64                  `json:"conf_threshold"`
	EvaluationType        string                   `json:"evaluation_type"`
}

// EvaluateClassification compares per-sample ground-truth labels with
// predicted labels; no IoU matching is involved. The ground-truth label of a
// multi-label sample is the lexicographically smallest, keeping evaluation
// deterministic. Predictions below the confidence threshold are dropped; a
// sample with no qualifying prediction counts as missing for its class,
// included in support and recall but not in the confusion matrix.
func EvaluateClassification(groundTruth, predictions []types.Annotation, confThreshold float64) *ClassificationResult {
	gtLabel := map[string]string{}
	for _, a := range groundTruth {
		if cur, ok := gtLabel[a.SampleID]; !ok || a.CategoryName < cur {
			gtLabel[a.SampleID] = a.CategoryName
		}
	}

	predsBySample := map[string][]string{}
	for _, a := range predictions {
		if a.Confidence != nil && *a.Confidence < confThreshold {
			continue
		}
		predsBySample[a.SampleID] = append(predsBySample[a.SampleID], a.CategoryName)
	}

	type cell struct {
		gt   string
		pred string
	}
	counts := map[cell]int{}
	missing := map[string]int{}
	classes := map[string]bool{}

	for sampleID, gt := range gtLabel {
		classes[gt] = true
		preds := predsBySample[sampleID]
		if len(preds) == 0 {
			missing[gt]++
			continue
		}
		for _, pred := range preds {
			classes[pred] = true
			counts[cell{gt: gt, pred: pred}]++
		}
	}

	labels := make([]string, 0, len(classes))
	for c := range classes {
		labels = append(labels, c)
	}
	sort.Strings(labels)
	idx := map[string]int{}
	for i, l := range labels {
		idx[l] = i
	}

	n := len(labels)
	matrix := make([][]int, n)
	for i := range matrix {
		matrix[i] = make([]int, n)
	}
	for c, count := range counts {
		matrix[idx[c.gt]][idx[c.pred]] += count
	}

	total, correct := 0, 0
	for i := range matrix {
		for j, v := range matrix[i] {
			total += v
			if i == j {
				correct += v
			}
		}
	}
	accuracy := 0.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	perClass := make([]ClassificationPerClass, 0, n)
	var macroSum, weightedSum float64
	totalSupport := 0
	for i, name := range labels {
		tp := matrix[i][i]
		rowSum := 0
		for _, v := range matrix[i] {
			rowSum += v
		}
		colSum := 0
		for r := 0; r < n; r++ {
			colSum += matrix[r][i]
		}
		support := rowSum + missing[name]

		precision := 0.0
		if colSum > 0 {
			precision = float64(tp) / float64(colSum)
		}
		recall := 0.0
		if support > 0 {
			recall = float64(tp) / float64(support)
		}
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}

		perClass = append(perClass, ClassificationPerClass{
			ClassName: name,
			Precision: round4(precision),
			Recall:    round4(recall),
			F1:        round4(f1),
			Support:   support,
		})
		macroSum += f1
		weightedSum += f1 * float64(support)
		totalSupport += support
	}

	macroF1 := 0.0
	if n > 0 {
		macroF1 = macroSum / float64(n)
	}
	weightedF1 := 0.0
	if totalSupport > 0 {
		weightedF1 = weightedSum / float64(totalSupport)
	}

	return &ClassificationResult{
		Accuracy:              round4(accuracy),
		MacroF1:               round4(macroF1),
		WeightedF1:            round4(weightedF1),
		PerClassMetrics:       perClass,
		ConfusionMatrix:       matrix,
		ConfusionMatrixLabels: labels,
		ConfThreshold:         confThreshold,
		EvaluationType:        "classification",
	}
}

// ClassificationConfusionCellSamples returns the ids of samples whose
// ground-truth label is actualClass and that carry at least one qualifying
// prediction of predictedClass, sorted ascending.
func ClassificationConfusionCellSamples(groundTruth, predictions []types.Annotation, actualClass, predictedClass string, confThreshold float64) []string {
	gtLabel := map[string]string{}
	for _, a := range groundTruth {
		if cur, ok := gtLabel[a.SampleID]; !ok || a.CategoryName < cur {
			gtLabel[a.SampleID] = a.CategoryName
		}
	}

	hits := map[string]bool{}
	for _, a := range predictions {
		if a.Confidence != nil && *a.Confidence < confThreshold {
			continue
		}
		if a.CategoryName != predictedClass {
			continue
		}
		if gtLabel[a.SampleID] == actualClass {
			hits[a.SampleID] = true
		}
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// round4 matches the payload precision of the metrics endpoints.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
