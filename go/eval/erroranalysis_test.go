package eval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeErrors_AccuratePrediction_IsTruePositive(t *testing.T) {
	analysis := CategorizeErrors(singleCarSample(), 0.5, 0.25)

	assert.Equal(t, 1, analysis.Summary.TruePositives)
	assert.Equal(t, 0, analysis.Summary.HardFalsePositives)
	assert.Equal(t, 0, analysis.Summary.LabelErrors)
	assert.Equal(t, 0, analysis.Summary.FalseNegatives)

	require.Len(t, analysis.SamplesByType[TruePositive], 1)
	es := analysis.SamplesByType[TruePositive][0]
	assert.Equal(t, "s1", es.SampleID)
	assert.Equal(t, "car", es.CategoryName)
	require.NotNil(t, es.Confidence)
	assert.Equal(t, 0.9, *es.Confidence)
}

func TestCategorizeErrors_MisclassifiedPrediction_IsLabelErrorAndConsumesGroundTruth(t *testing.T) {
	samples := []SampleDetections{
		{
			SampleID:    "s1",
			GroundTruth: []Detection{gtBox("g1", "car", 10, 10, 50, 50)},
			Predictions: []Detection{predBox("p1", "truck", 11, 11, 49, 49, 0.9)},
		},
	}

	analysis := CategorizeErrors(samples, 0.5, 0.25)

	assert.Equal(t, 1, analysis.Summary.LabelErrors)
	assert.Equal(t, 0, analysis.Summary.FalseNegatives)
	require.Len(t, analysis.PerClass, 1)
	assert.Equal(t, "truck", analysis.PerClass[0].ClassName)
	assert.Equal(t, 1, analysis.PerClass[0].LabelError)
}

func TestCategorizeErrors_OverlapBelowThreshold_IsHardFPAndFalseNegative(t *testing.T) {
	samples := []SampleDetections{
		{
			SampleID:    "s1",
			GroundTruth: []Detection{gtBox("g1", "car", 0, 0, 10, 10)},
			Predictions: []Detection{predBox("p1", "car", 5, 0, 10, 10, 0.9)},
		},
	}

	analysis := CategorizeErrors(samples, 0.5, 0.25)

	assert.Equal(t, 1, analysis.Summary.HardFalsePositives)
	assert.Equal(t, 1, analysis.Summary.FalseNegatives)
	require.Len(t, analysis.SamplesByType[FalseNegative], 1)
	assert.Nil(t, analysis.SamplesByType[FalseNegative][0].Confidence)
}

func TestCategorizeErrors_LowConfidencePrediction_Ignored(t *testing.T) {
	samples := []SampleDetections{
		{
			SampleID:    "s1",
			GroundTruth: []Detection{gtBox("g1", "car", 10, 10, 50, 50)},
			Predictions: []Detection{predBox("p1", "car", 11, 11, 49, 49, 0.1)},
		},
	}

	analysis := CategorizeErrors(samples, 0.5, 0.25)

	assert.Equal(t, 0, analysis.Summary.TruePositives)
	assert.Equal(t, 0, analysis.Summary.HardFalsePositives)
	assert.Equal(t, 1, analysis.Summary.FalseNegatives)
}

func TestCategorizeErrors_PreviewListsCappedCountersAreNot(t *testing.T) {
	var preds []Detection
	for i := 0; i < 60; i++ {
		preds = append(preds, predBox(fmt.Sprintf("p%d", i), "car", float64(i*20), 0, 10, 10, 0.9))
	}
	samples := []SampleDetections{{SampleID: "s1", Predictions: preds}}

	analysis := CategorizeErrors(samples, 0.5, 0.25)

	assert.Equal(t, 60, analysis.Summary.HardFalsePositives)
	assert.Len(t, analysis.SamplesByType[HardFP], maxSamplesPerType)
}

func TestCategorizeSample_RecordsMatchedIndexAndIoU(t *testing.T) {
	out := CategorizeSample(singleCarSample()[0], 0.5, 0.25)

	require.Len(t, out.Preds, 1)
	assert.Equal(t, TruePositive, out.Preds[0].Type)
	assert.Equal(t, 0, out.Preds[0].MatchedGT)
	assert.InDelta(t, 0.9604, out.Preds[0].IoU, 1e-4)
	assert.Empty(t, out.MissedGT)
}

func TestPerSampleErrorStats_CountsEveryErrorWithoutCap(t *testing.T) {
	var preds []Detection
	for i := 0; i < 60; i++ {
		preds = append(preds, predBox(fmt.Sprintf("p%d", i), "car", float64(i*20), 0, 10, 10, 0.9))
	}
	samples := []SampleDetections{
		{SampleID: "s1", Predictions: preds},
		{
			SampleID:    "s2",
			GroundTruth: []Detection{gtBox("g1", "car", 10, 10, 50, 50)},
			Predictions: []Detection{predBox("q1", "car", 11, 11, 49, 49, 0.9)},
		},
	}

	stats := PerSampleErrorStats(samples, 0.5, 0.25)

	// s2 is all true positives and therefore absent.
	require.Len(t, stats, 1)
	assert.Equal(t, "s1", stats[0].SampleID)
	assert.Equal(t, 60, stats[0].ErrorCount)
	assert.Len(t, stats[0].Confidences, 60)
}

func TestPerSampleErrorStats_FalseNegativesCountButAddNoConfidence(t *testing.T) {
	samples := []SampleDetections{
		{
			SampleID:    "s1",
			GroundTruth: []Detection{gtBox("g1", "car", 0, 0, 10, 10)},
		},
	}

	stats := PerSampleErrorStats(samples, 0.5, 0.25)

	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].ErrorCount)
	assert.Empty(t, stats[0].Confidences)
}
