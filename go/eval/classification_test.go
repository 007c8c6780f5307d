package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/types"
)

func classGT(sampleID, label string) types.Annotation {
	return types.Annotation{SampleID: sampleID, CategoryName: label, Source: types.GroundTruth}
}

func classPred(sampleID, label string, conf float64) types.Annotation {
	return types.Annotation{SampleID: sampleID, CategoryName: label, Source: "model-a", Confidence: floatPtr(conf)}
}

func TestEvaluateClassification_AllCorrect_PerfectScores(t *testing.T) {
	gt := []types.Annotation{classGT("s1", "cat"), classGT("s2", "dog")}
	preds := []types.Annotation{classPred("s1", "cat", 0.9), classPred("s2", "dog", 0.8)}

	res := EvaluateClassification(gt, preds, 0.25)

	assert.Equal(t, 1.0, res.Accuracy)
	assert.Equal(t, 1.0, res.MacroF1)
	assert.Equal(t, 1.0, res.WeightedF1)
	assert.Equal(t, [][]int{{1, 0}, {0, 1}}, res.ConfusionMatrix)
	assert.Equal(t, []string{"cat", "dog"}, res.ConfusionMatrixLabels)
	assert.Equal(t, "classification", res.EvaluationType)
}

func TestEvaluateClassification_MissingPrediction_LowersRecallNotAccuracy(t *testing.T) {
	gt := []types.Annotation{classGT("s1", "cat"), classGT("s2", "cat")}
	preds := []types.Annotation{classPred("s1", "cat", 0.9)}

	res := EvaluateClassification(gt, preds, 0.25)

	// Accuracy covers only samples with a qualifying prediction.
	assert.Equal(t, 1.0, res.Accuracy)

	require.Len(t, res.PerClassMetrics, 1)
	pc := res.PerClassMetrics[0]
	assert.Equal(t, "cat", pc.ClassName)
	assert.Equal(t, 2, pc.Support)
	assert.Equal(t, 1.0, pc.Precision)
	assert.Equal(t, 0.5, pc.Recall)
	assert.InDelta(t, 0.6667, pc.F1, 1e-4)
}

func TestEvaluateClassification_LowConfidencePrediction_CountsAsMissing(t *testing.T) {
	gt := []types.Annotation{classGT("s1", "cat")}
	preds := []types.Annotation{classPred("s1", "cat", 0.1)}

	res := EvaluateClassification(gt, preds, 0.25)

	assert.Equal(t, 0.0, res.Accuracy)
	require.Len(t, res.PerClassMetrics, 1)
	assert.Equal(t, 1, res.PerClassMetrics[0].Support)
	assert.Equal(t, 0.0, res.PerClassMetrics[0].Recall)
}

func TestEvaluateClassification_MultiLabelGroundTruth_UsesLexicographicMin(t *testing.T) {
	gt := []types.Annotation{classGT("s1", "zebra"), classGT("s1", "aardvark")}
	preds := []types.Annotation{classPred("s1", "aardvark", 0.9)}

	res := EvaluateClassification(gt, preds, 0.25)

	assert.Equal(t, 1.0, res.Accuracy)
	assert.Equal(t, []string{"aardvark"}, res.ConfusionMatrixLabels)
}

func TestEvaluateClassification_Misclassification_RowsActualColumnsPredicted(t *testing.T) {
	gt := []types.Annotation{classGT("s1", "cat")}
	preds := []types.Annotation{classPred("s1", "dog", 0.9)}

	res := EvaluateClassification(gt, preds, 0.25)

	assert.Equal(t, 0.0, res.Accuracy)
	assert.Equal(t, []string{"cat", "dog"}, res.ConfusionMatrixLabels)
	assert.Equal(t, [][]int{{0, 1}, {0, 0}}, res.ConfusionMatrix)
}

func TestEvaluateClassification_WeightedF1_UsesSupport(t *testing.T) {
	gt := []types.Annotation{
		classGT("s1", "cat"), classGT("s2", "cat"), classGT("s3", "cat"),
		classGT("s4", "dog"),
	}
	preds := []types.Annotation{
		classPred("s1", "cat", 0.9), classPred("s2", "cat", 0.9), classPred("s3", "cat", 0.9),
		classPred("s4", "cat", 0.9),
	}

	res := EvaluateClassification(gt, preds, 0.25)

	// cat: precision 3/4, recall 1, f1 6/7. dog: all zero.
	assert.InDelta(t, (6.0/7.0)/2, res.MacroF1, 1e-4)
	assert.InDelta(t, (6.0/7.0)*3/4, res.WeightedF1, 1e-4)
}

func TestClassificationConfusionCellSamples_FiltersOnBothLabels(t *testing.T) {
	gt := []types.Annotation{classGT("s1", "cat"), classGT("s2", "cat"), classGT("s3", "dog")}
	preds := []types.Annotation{
		classPred("s1", "dog", 0.9),
		classPred("s2", "cat", 0.9),
		classPred("s3", "dog", 0.9),
	}

	ids := ClassificationConfusionCellSamples(gt, preds, "cat", "dog", 0.25)
	assert.Equal(t, []string{"s1"}, ids)
}
