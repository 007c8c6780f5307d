package parsers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/storage"
)

func newDetectionDirForTest(batchSize int) *DetectionDirParser {
	return &DetectionDirParser{fs: storage.New(""), batchSize: batchSize}
}

func TestDetectionDirParser_Parse_ScalesNormalisedBoxesToPixels(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.json", `{
  "filename": "a.jpg",
  "categories": {"0": "ball", "1": "player"},
  "annotations": [
    {"bbox": {"x": 0.1, "y": 0.2, "w": 0.3, "h": 0.4}, "confidence": 0.95, "class_id": 1},
    {"bbox": {"x": 0.5, "y": 0.5, "w": 0.25, "h": 0.25}, "confidence": 0.5, "class_id": 3},
    {"bbox": {"x": 0, "y": 0, "w": 1, "h": 1}, "confidence": 0.1}
  ]
}`)
	dims := map[string]SampleDims{"a.jpg": {SampleID: "s1", Width: 100, Height: 200}}
	it := newDetectionDirForTest(1000).Parse(dir, "ds1", "yolo_v8", dims)

	anns := drainAnnotations(t, it)

	require.Len(t, anns, 3)
	first := anns[0]
	assert.Equal(t, "ds1", first.DatasetID)
	assert.Equal(t, "s1", first.SampleID)
	assert.Equal(t, "player", first.CategoryName)
	assert.InDelta(t, 10, first.BboxX, 1e-9)
	assert.InDelta(t, 40, first.BboxY, 1e-9)
	assert.InDelta(t, 30, first.BboxW, 1e-9)
	assert.InDelta(t, 80, first.BboxH, 1e-9)
	assert.InDelta(t, 2400, first.Area, 1e-6)
	require.NotNil(t, first.Confidence)
	assert.Equal(t, 0.95, *first.Confidence)
	assert.Equal(t, "yolo_v8", first.Source)

	// class_id without a categories entry, and no class_id at all.
	assert.Equal(t, "class_3", anns[1].CategoryName)
	assert.Equal(t, "class_-1", anns[2].CategoryName)
}

func TestDetectionDirParser_Parse_ReadsFilesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "b.json", `{"filename": "b.jpg", "categories": {"0": "ball"}, "annotations": [{"bbox": {"x": 0, "y": 0, "w": 1, "h": 1}, "confidence": 0.2, "class_id": 0}]}`)
	writeFixture(t, dir, "a.json", `{"filename": "a.jpg", "categories": {"0": "ball"}, "annotations": [{"bbox": {"x": 0, "y": 0, "w": 1, "h": 1}, "confidence": 0.3, "class_id": 0}]}`)
	writeFixture(t, dir, "notes.txt", "not a prediction")
	dims := map[string]SampleDims{
		"a.jpg": {SampleID: "s_a", Width: 10, Height: 10},
		"b.jpg": {SampleID: "s_b", Width: 10, Height: 10},
	}

	anns := drainAnnotations(t, newDetectionDirForTest(1000).Parse(dir, "ds1", "m", dims))

	require.Len(t, anns, 2)
	assert.Equal(t, "s_a", anns[0].SampleID)
	assert.Equal(t, "s_b", anns[1].SampleID)
}

func TestDetectionDirParser_Parse_CountsUnreadableAndUnmatchedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "broken.json", `{"filename":`)
	writeFixture(t, dir, "stranger.json", `{"filename": "nobody.jpg", "annotations": [{"bbox": {"x": 0, "y": 0, "w": 1, "h": 1}, "confidence": 0.9, "class_id": 0}]}`)
	writeFixture(t, dir, "valid.json", `{"filename": "a.jpg", "categories": {"2": "goal"}, "annotations": [{"bbox": {"x": 0, "y": 0, "w": 0.5, "h": 0.5}, "confidence": 0.7, "class_id": 2}]}`)
	dims := map[string]SampleDims{"a.jpg": {SampleID: "s1", Width: 64, Height: 64}}
	it := newDetectionDirForTest(1000).Parse(dir, "ds1", "m", dims)

	anns := drainAnnotations(t, it)

	require.Len(t, anns, 1)
	assert.Equal(t, "goal", anns[0].CategoryName)
	assert.Equal(t, int64(1), it.SkippedFiles())
	assert.Equal(t, int64(1), it.UnmatchedFiles())
}

func TestDetectionDirParser_Parse_EmptyDirYieldsNothing(t *testing.T) {
	it := newDetectionDirForTest(1000).Parse(t.TempDir(), "ds1", "m", nil)

	assert.False(t, it.Next(context.Background()))
	require.NoError(t, it.Err())
}

func TestDetectionDirParser_Parse_MissingDirIsBadInput(t *testing.T) {
	it := newDetectionDirForTest(1000).Parse(filepath.Join(t.TempDir(), "absent"), "ds1", "m", nil)

	assert.False(t, it.Next(context.Background()))
	assert.True(t, apperror.IsKind(it.Err(), apperror.BadInput))
}
