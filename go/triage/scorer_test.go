package triage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/eval"
	"github.com/visionlens/visionlens/go/types"
)

func pred(id, class string, x, y, w, h, conf float64) eval.Detection {
	return eval.Detection{
		AnnotationID:  id,
		Class:         class,
		Box:           eval.Box{X: x, Y: y, W: w, H: h},
		Confidence:    conf,
		HasConfidence: true,
	}
}

func missedSample(sampleID string, errors int) eval.SampleDetections {
	s := eval.SampleDetections{SampleID: sampleID}
	for i := 0; i < errors; i++ {
		s.GroundTruth = append(s.GroundTruth, eval.Detection{
			AnnotationID: fmt.Sprintf("%s-g%d", sampleID, i),
			Class:        "car",
			Box:          eval.Box{X: float64(i * 20), Y: 0, W: 10, H: 10},
		})
	}
	return s
}

func TestWorstImages_NoErrors_ReturnsEmpty(t *testing.T) {
	samples := []eval.SampleDetections{
		{
			SampleID:    "s1",
			GroundTruth: []eval.Detection{{AnnotationID: "g1", Class: "car", Box: eval.Box{X: 10, Y: 10, W: 50, H: 50}}},
			Predictions: []eval.Detection{pred("p1", "car", 11, 11, 49, 49, 0.9)},
		},
	}

	assert.Empty(t, WorstImages(samples, 0.5, 0.25, 50))
}

func TestWorstImages_MoreErrorsScoreHigher(t *testing.T) {
	samples := []eval.SampleDetections{
		missedSample("one-error", 1),
		missedSample("three-errors", 3),
	}

	scored := WorstImages(samples, 0.5, 0.25, 50)

	require.Len(t, scored, 2)
	assert.Equal(t, "three-errors", scored[0].SampleID)
	assert.Equal(t, 3, scored[0].ErrorCount)
	// Max error count normalizes to 1; spread is zero everywhere.
	assert.Equal(t, 0.6, scored[0].Score)
	assert.Equal(t, 0.2, scored[1].Score)
}

func TestWorstImages_ScoresStayInUnitInterval(t *testing.T) {
	samples := []eval.SampleDetections{
		missedSample("a", 5),
		{
			SampleID: "b",
			Predictions: []eval.Detection{
				pred("p1", "car", 0, 0, 10, 10, 0.9),
				pred("p2", "car", 20, 0, 10, 10, 0.1),
			},
		},
	}

	for _, s := range WorstImages(samples, 0.5, 0.05, 50) {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
	}
}

func TestWorstImages_SpreadBreaksTies(t *testing.T) {
	samples := []eval.SampleDetections{
		{
			SampleID: "varied",
			Predictions: []eval.Detection{
				pred("p1", "car", 0, 0, 10, 10, 0.9),
				pred("p2", "car", 20, 0, 10, 10, 0.3),
			},
		},
		{
			SampleID: "uniform",
			Predictions: []eval.Detection{
				pred("p3", "car", 0, 0, 10, 10, 0.6),
				pred("p4", "car", 20, 0, 10, 10, 0.6),
			},
		},
	}

	scored := WorstImages(samples, 0.5, 0.25, 50)

	require.Len(t, scored, 2)
	assert.Equal(t, "varied", scored[0].SampleID)
	assert.Greater(t, scored[0].ConfidenceSpread, scored[1].ConfidenceSpread)
	assert.Equal(t, scored[0].ErrorCount, scored[1].ErrorCount)
}

func TestWorstImages_FewerThanTwoConfidences_SpreadIsZero(t *testing.T) {
	samples := []eval.SampleDetections{missedSample("s1", 1)}

	scored := WorstImages(samples, 0.5, 0.25, 50)

	require.Len(t, scored, 1)
	assert.Equal(t, 0.0, scored[0].ConfidenceSpread)
}

func TestWorstImages_LimitTruncates(t *testing.T) {
	var samples []eval.SampleDetections
	for i := 0; i < 10; i++ {
		samples = append(samples, missedSample(fmt.Sprintf("s%d", i), i+1))
	}

	scored := WorstImages(samples, 0.5, 0.25, 3)

	require.Len(t, scored, 3)
	assert.Equal(t, "s9", scored[0].SampleID)
}

func TestOverlay_OverrideWinsAutoLabelPreserved(t *testing.T) {
	iou := 0.96
	auto := map[string]eval.AnnotationMatch{
		"a1": {Label: eval.AutoTP, MatchedID: "g1", IoU: &iou},
		"a2": {Label: eval.AutoFP},
	}
	overrides := []types.TriageOverride{
		{AnnotationID: "a2", Label: types.TriageMistake},
	}

	items := Overlay(auto, overrides)

	require.Len(t, items, 2)
	assert.Equal(t, "a1", items[0].AnnotationID)
	assert.Equal(t, eval.AutoTP, items[0].Label)
	assert.False(t, items[0].IsOverride)

	assert.Equal(t, "a2", items[1].AnnotationID)
	assert.Equal(t, eval.AutoFP, items[1].AutoLabel)
	assert.Equal(t, "mistake", items[1].Label)
	assert.True(t, items[1].IsOverride)
}
