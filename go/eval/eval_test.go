package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/types"
)

// gtBox returns a ground-truth detection for tests.
func gtBox(id, class string, x, y, w, h float64) Detection {
	return Detection{
		AnnotationID: id,
		Class:        class,
		Box:          Box{X: x, Y: y, W: w, H: h},
		Confidence:   1.0,
	}
}

// predBox returns a prediction with an explicit confidence for tests.
func predBox(id, class string, x, y, w, h, conf float64) Detection {
	return Detection{
		AnnotationID:  id,
		Class:         class,
		Box:           Box{X: x, Y: y, W: w, H: h},
		Confidence:    conf,
		HasConfidence: true,
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestGroupBySample_MixedAnnotations_GroupsAndSortsClasses(t *testing.T) {
	gt := []types.Annotation{
		{ID: "g1", SampleID: "s2", CategoryName: "truck", BboxX: 1, BboxY: 2, BboxW: 3, BboxH: 4},
		{ID: "g2", SampleID: "s1", CategoryName: "car"},
	}
	preds := []types.Annotation{
		{ID: "p1", SampleID: "s1", CategoryName: "bike", Confidence: floatPtr(0.7)},
	}

	samples, classNames := GroupBySample(gt, preds)

	require.Equal(t, []string{"bike", "car", "truck"}, classNames)
	require.Len(t, samples, 2)
	assert.Equal(t, "s1", samples[0].SampleID)
	assert.Equal(t, "s2", samples[1].SampleID)
	require.Len(t, samples[0].GroundTruth, 1)
	require.Len(t, samples[0].Predictions, 1)
	assert.Equal(t, 0.7, samples[0].Predictions[0].Confidence)
	assert.True(t, samples[0].Predictions[0].HasConfidence)
	assert.Equal(t, Box{X: 1, Y: 2, W: 3, H: 4}, samples[1].GroundTruth[0].Box)
}

func TestFromAnnotation_NoConfidence_DefaultsToOne(t *testing.T) {
	d := FromAnnotation(types.Annotation{ID: "a1", SampleID: "s1", CategoryName: "car"})
	assert.Equal(t, 1.0, d.Confidence)
	assert.False(t, d.HasConfidence)
}
