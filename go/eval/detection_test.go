package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{IoUThreshold: 0.5, ConfThreshold: 0.25}

func singleCarSample() []SampleDetections {
	return []SampleDetections{
		{
			SampleID:    "s1",
			GroundTruth: []Detection{gtBox("g1", "car", 10, 10, 50, 50)},
			Predictions: []Detection{predBox("p1", "car", 11, 11, 49, 49, 0.9)},
		},
	}
}

func TestEvaluate_SingleAccuratePrediction_PerfectScores(t *testing.T) {
	res := Evaluate(singleCarSample(), []string{"car"}, testOpts)

	assert.Equal(t, 1.0, res.APMetrics.MAP50)
	assert.Equal(t, 1.0, res.APMetrics.MAP75)
	assert.Equal(t, 1.0, res.APMetrics.MAP5095)

	require.Len(t, res.PerClassMetrics, 1)
	pcm := res.PerClassMetrics[0]
	assert.Equal(t, "car", pcm.ClassName)
	assert.Equal(t, 1.0, pcm.AP50)
	assert.Equal(t, 1.0, pcm.Precision)
	assert.Equal(t, 1.0, pcm.Recall)

	require.Len(t, res.PRCurves, 2)
	assert.Equal(t, "all", res.PRCurves[0].ClassName)
	assert.Equal(t, "car", res.PRCurves[1].ClassName)
	assert.Equal(t, 1.0, res.PRCurves[1].AP)

	assert.Equal(t, []string{"car", Background}, res.ConfusionMatrixLabels)
	assert.Equal(t, [][]int{{1, 0}, {0, 0}}, res.ConfusionMatrix)
}

func TestEvaluate_MisclassifiedPrediction_FillsConfusionCell(t *testing.T) {
	samples := []SampleDetections{
		{
			SampleID:    "s1",
			GroundTruth: []Detection{gtBox("g1", "car", 10, 10, 50, 50)},
			Predictions: []Detection{predBox("p1", "truck", 11, 11, 49, 49, 0.9)},
		},
	}

	res := Evaluate(samples, []string{"car", "truck"}, testOpts)

	assert.Equal(t, 0.0, res.APMetrics.MAP50)
	assert.Equal(t, []string{"car", "truck", Background}, res.ConfusionMatrixLabels)
	assert.Equal(t, [][]int{
		{0, 1, 0},
		{0, 0, 0},
		{0, 0, 0},
	}, res.ConfusionMatrix)

	ids := ConfusionCellSamples(samples, "car", "truck", testOpts)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestEvaluate_NoClasses_ReturnsEmptyResult(t *testing.T) {
	res := Evaluate(nil, nil, testOpts)

	assert.Empty(t, res.PRCurves)
	assert.Empty(t, res.PerClassMetrics)
	assert.Empty(t, res.ConfusionMatrix)
	assert.Equal(t, 0.5, res.IoUThreshold)
	assert.Equal(t, 0.25, res.ConfThreshold)
}

func TestEvaluate_LowConfidencePredictions_StayOnCurveButNotInMatrix(t *testing.T) {
	samples := []SampleDetections{
		{
			SampleID:    "s1",
			GroundTruth: []Detection{gtBox("g1", "car", 10, 10, 50, 50)},
			Predictions: []Detection{predBox("p1", "car", 11, 11, 49, 49, 0.1)},
		},
	}

	res := Evaluate(samples, []string{"car"}, testOpts)

	// The curve keeps every operating point, so AP is still perfect.
	require.Len(t, res.PRCurves, 2)
	assert.Equal(t, 1.0, res.PRCurves[1].AP)

	// The matrix applies the confidence filter: the prediction disappears
	// and the ground truth becomes a false negative.
	assert.Equal(t, [][]int{{0, 1}, {0, 0}}, res.ConfusionMatrix)
}

func TestConfusionCellSamples_BackgroundRow_SelectsFalsePositives(t *testing.T) {
	samples := []SampleDetections{
		{
			SampleID:    "s1",
			Predictions: []Detection{predBox("p1", "car", 0, 0, 10, 10, 0.9)},
		},
		{
			SampleID:    "s2",
			GroundTruth: []Detection{gtBox("g1", "car", 0, 0, 10, 10)},
		},
	}

	assert.Equal(t, []string{"s1"}, ConfusionCellSamples(samples, Background, "car", testOpts))
	assert.Equal(t, []string{"s2"}, ConfusionCellSamples(samples, "car", Background, testOpts))
	assert.Empty(t, ConfusionCellSamples(samples, "car", "car", testOpts))
}
