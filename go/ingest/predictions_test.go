package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/types"
)

const cocoResultsFixture = `[
  {"image_id": 1, "category_id": 1, "bbox": [0, 0, 10, 10], "score": 0.9},
  {"image_id": 2, "category_id": 2, "bbox": [1, 1, 5, 5], "score": 0.4}
]`

// seedDataset installs a dataset with two categories and its ground truth.
func seedDataset(f ingestFixture, id string) {
	f.ds.rows[id] = types.Dataset{ID: id, Name: "roads"}
	f.ds.categories = append(f.ds.categories,
		types.Category{DatasetID: id, ID: 1, Name: "car"},
		types.Category{DatasetID: id, ID: 2, Name: "person"},
	)
	f.as.rows = append(f.as.rows, types.Annotation{
		DatasetID: id, ID: "gt1", SampleID: "1", CategoryName: "car", Source: types.GroundTruth,
	})
}

func TestImportPredictions_ReplacesTheRunWithoutTouchingGroundTruth(t *testing.T) {
	f := newIngesterForTest(t)
	seedDataset(f, "ds1")
	f.as.rows = append(f.as.rows,
		types.Annotation{DatasetID: "ds1", ID: "old1", SampleID: "1", Source: "resnet50"},
		types.Annotation{DatasetID: "ds1", ID: "old2", SampleID: "2", Source: "resnet50"},
	)
	path := writeFixture(t, t.TempDir(), "results.json", cocoResultsFixture)
	req := PredictionRequest{DatasetID: "ds1", PredictionPath: path, RunName: "resnet50"}

	res, err := f.ing.ImportPredictions(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, PredictionResult{
		DatasetID:       "ds1",
		RunName:         "resnet50",
		PredictionCount: 2,
		SkippedCount:    0,
		Message:         "Imported 2 predictions",
	}, res)

	// The old run is gone before the new rows land.
	assert.Equal(t, []string{"delete:resnet50", "insert"}, f.as.ops)
	assert.Len(t, f.as.bySource(types.GroundTruth), 1)
	run := f.as.bySource("resnet50")
	require.Len(t, run, 2)
	assert.NotEqual(t, "old1", run[0].ID)
	assert.Equal(t, "car", run[0].CategoryName)
	require.NotNil(t, run[0].Confidence)
	assert.Equal(t, 0.9, *run[0].Confidence)
	assert.Equal(t, []string{"ds1"}, f.ds.refreshed)

	// A second import of the same file ends with the same two rows.
	_, err = f.ing.ImportPredictions(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, f.as.bySource("resnet50"), 2)
}

func TestImportPredictions_UnknownDatasetIsNotFound(t *testing.T) {
	f := newIngesterForTest(t)
	path := writeFixture(t, t.TempDir(), "results.json", cocoResultsFixture)

	_, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID:      "nope",
		PredictionPath: path,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.NotFound))
	assert.Empty(t, f.as.ops)
}

func TestImportPredictions_ReservedRunNameIsRejected(t *testing.T) {
	f := newIngesterForTest(t)
	seedDataset(f, "ds1")
	path := writeFixture(t, t.TempDir(), "results.json", cocoResultsFixture)

	_, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID:      "ds1",
		PredictionPath: path,
		RunName:        types.GroundTruth,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.BadInput))
	assert.Empty(t, f.as.ops)
}

func TestImportPredictions_UnsupportedFormatIsRejectedBeforeAnyDelete(t *testing.T) {
	f := newIngesterForTest(t)
	seedDataset(f, "ds1")
	path := writeFixture(t, t.TempDir(), "results.json", cocoResultsFixture)

	_, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID:      "ds1",
		PredictionPath: path,
		Format:         "tfrecord",
		RunName:        "run1",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.BadInput))
	assert.Empty(t, f.as.ops)
}

func TestImportPredictions_ParseFailureStillDeletesTheNamedRun(t *testing.T) {
	f := newIngesterForTest(t)
	seedDataset(f, "ds1")
	path := writeFixture(t, t.TempDir(), "broken.json", `{"not": "an array"}`)

	_, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID:      "ds1",
		PredictionPath: path,
		RunName:        "bad_run",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.ParseError))
	assert.Equal(t, []string{"delete:bad_run"}, f.as.ops)
	assert.Empty(t, f.ds.refreshed)
}

func TestImportPredictions_DerivesRunNameFromFileStem(t *testing.T) {
	f := newIngesterForTest(t)
	seedDataset(f, "ds1")
	path := writeFixture(t, t.TempDir(), "yolo_v8_preds.json", `[]`)

	res, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID:      "ds1",
		PredictionPath: path,
	})
	require.NoError(t, err)
	assert.Equal(t, "yolo_v8_preds", res.RunName)
	assert.Equal(t, "Imported 0 predictions", res.Message)
	assert.Equal(t, []string{"delete:yolo_v8_preds"}, f.as.ops)
}

func TestImportPredictions_DerivesRunNameFromDetectionInfo(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		expected string
	}{
		{
			name: "source and date",
			files: map[string]string{
				"0001.json": `{"info": {"annotations_source": "yolov8", "created_at": "2024-03-01T12:00:00"}, "filename": "x.jpg", "annotations": []}`,
			},
			expected: "yolov8_2024-03-01",
		},
		{
			name: "source only",
			files: map[string]string{
				"0001.json": `{"info": {"annotations_source": "yolov8"}, "filename": "x.jpg", "annotations": []}`,
			},
			expected: "yolov8",
		},
		{
			name: "date only with space separator",
			files: map[string]string{
				"0001.json": `{"info": {"created_at": "2024-03-01 12:00:00"}, "filename": "x.jpg", "annotations": []}`,
			},
			expected: "prediction_2024-03-01",
		},
		{
			name: "no info block",
			files: map[string]string{
				"0001.json": `{"filename": "x.jpg", "annotations": []}`,
			},
			expected: "prediction",
		},
		{
			name:     "empty directory",
			files:    map[string]string{},
			expected: "prediction",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newIngesterForTest(t)
			seedDataset(f, "ds1")
			dir := t.TempDir()
			for name, content := range tc.files {
				writeFixture(t, dir, name, content)
			}

			res, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
				DatasetID:      "ds1",
				PredictionPath: dir,
				Format:         PredictionFormatDetectionAnnotation,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res.RunName)
		})
	}
}

func TestImportPredictions_ClassificationMatchesByFileName(t *testing.T) {
	f := newIngesterForTest(t)
	seedDataset(f, "ds1")
	f.ss.rows = append(f.ss.rows,
		types.Sample{DatasetID: "ds1", ID: "s1", FileName: "a.jpg"},
		types.Sample{DatasetID: "ds1", ID: "s2", FileName: "b.jpg"},
	)
	path := writeFixture(t, t.TempDir(), "preds.jsonl",
		`{"file_name": "a.jpg", "predicted_label": "cat", "confidence": 0.8}
{"file_name": "ghost.jpg", "predicted_label": "dog"}
{"file_name": "b.jpg", "predicted_label": "dog", "score": 0.5}
`)

	res, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID:      "ds1",
		PredictionPath: path,
		Format:         PredictionFormatClassificationJSONL,
		RunName:        "clf_run",
	})
	require.NoError(t, err)

	assert.EqualValues(t, 2, res.PredictionCount)
	assert.EqualValues(t, 1, res.SkippedCount)
	assert.Equal(t, "Imported 2 predictions (1 skipped: unmatched files or categories)", res.Message)

	run := f.as.bySource("clf_run")
	require.Len(t, run, 2)
	assert.Equal(t, "s1", run[0].SampleID)
	assert.Equal(t, "cat", run[0].CategoryName)
	require.NotNil(t, run[0].Confidence)
	assert.Equal(t, 0.8, *run[0].Confidence)
	assert.Equal(t, "s2", run[1].SampleID)
	assert.Equal(t, "dog", run[1].CategoryName)
}

func TestImportPredictions_DetectionDirScalesBySampleDims(t *testing.T) {
	f := newIngesterForTest(t)
	seedDataset(f, "ds1")
	f.ss.rows = append(f.ss.rows, types.Sample{
		DatasetID: "ds1", ID: "s1", FileName: "img1.jpg", Width: 100, Height: 200,
	})
	dir := t.TempDir()
	writeFixture(t, dir, "img1.json", `{
  "filename": "img1.jpg",
  "categories": {"0": "ball"},
  "annotations": [{"bbox": {"x": 0.1, "y": 0.2, "w": 0.3, "h": 0.4}, "confidence": 0.9, "class_id": 0}]
}`)
	writeFixture(t, dir, "stray.json", `{"filename": "ghost.jpg", "annotations": [{"bbox": {"x": 0, "y": 0, "w": 1, "h": 1}, "confidence": 0.5, "class_id": 0}]}`)

	res, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID:      "ds1",
		PredictionPath: dir,
		Format:         PredictionFormatDetectionAnnotation,
		RunName:        "yolo",
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, res.PredictionCount)
	assert.EqualValues(t, 1, res.SkippedCount)

	run := f.as.bySource("yolo")
	require.Len(t, run, 1)
	assert.Equal(t, "s1", run[0].SampleID)
	assert.Equal(t, "ball", run[0].CategoryName)
	assert.InDelta(t, 10, run[0].BboxX, 1e-9)
	assert.InDelta(t, 40, run[0].BboxY, 1e-9)
	assert.InDelta(t, 30, run[0].BboxW, 1e-9)
	assert.InDelta(t, 80, run[0].BboxH, 1e-9)
}

func TestImportPredictions_ConcurrentImportForSameDatasetConflicts(t *testing.T) {
	f := newIngesterForTest(t)
	seedDataset(f, "ds1")
	seedDataset(f, "ds2")
	path := writeFixture(t, t.TempDir(), "run.json", `[]`)

	started := make(chan struct{})
	release := make(chan struct{})
	f.as.deleteStarted = started
	f.as.deleteRelease = release

	done := make(chan error, 1)
	go func() {
		_, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
			DatasetID: "ds1", PredictionPath: path, RunName: "runA",
		})
		done <- err
	}()
	<-started

	_, err := f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID: "ds1", PredictionPath: path, RunName: "runB",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.Conflict))

	// A different dataset is not blocked.
	_, err = f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID: "ds2", PredictionPath: path, RunName: "runC",
	})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	// The gate reopens once the first import finishes.
	_, err = f.ing.ImportPredictions(context.Background(), PredictionRequest{
		DatasetID: "ds1", PredictionPath: path, RunName: "runD",
	})
	require.NoError(t, err)
}
