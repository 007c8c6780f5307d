package tasks

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/types"
	"github.com/visionlens/visionlens/go/vecstore"
)

// progressRecorder collects every update a task body makes.
type progressRecorder struct {
	mutex   sync.Mutex
	updates []Progress
}

func (r *progressRecorder) update(p Progress) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.updates = append(r.updates, p)
}

func (r *progressRecorder) last(t *testing.T) Progress {
	t.Helper()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	require.NotEmpty(t, r.updates)
	return r.updates[len(r.updates)-1]
}

func (r *progressRecorder) statuses() []Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]Status, len(r.updates))
	for i, p := range r.updates {
		out[i] = p.Status
	}
	return out
}

// fakeSampleStore serves ListAll from a fixed slice and records AddTag
// calls. The task workers use nothing else from the interface.
type fakeSampleStore struct {
	samples.Store
	all       []types.Sample
	addTagErr error

	addedTags []tagCall
}

type tagCall struct {
	sampleID string
	tag      string
}

func (f *fakeSampleStore) ListAll(_ context.Context, datasetID string) ([]types.Sample, error) {
	out := []types.Sample{}
	for _, s := range f.all {
		if s.DatasetID == datasetID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSampleStore) AddTag(_ context.Context, _ string, sampleIDs []string, tag string) (int64, error) {
	if f.addTagErr != nil {
		return 0, f.addTagErr
	}
	for _, id := range sampleIDs {
		f.addedTags = append(f.addedTags, tagCall{sampleID: id, tag: tag})
	}
	return int64(len(sampleIDs)), nil
}

type fakeDatasetStore struct {
	datasets.Store
	ds types.Dataset
}

func (f *fakeDatasetStore) Get(_ context.Context, id string) (types.Dataset, error) {
	if id != f.ds.ID {
		return types.Dataset{}, apperror.New(apperror.NotFound, "dataset %s not found", id)
	}
	return f.ds, nil
}

// fakeEmbeddingStore records the order of writes so tests can check that
// regeneration deletes before inserting.
type fakeEmbeddingStore struct {
	embeddings.Store
	vectors []types.Embedding

	deleteCalls int
	batches     [][]types.Embedding
	coords      []embeddings.Coordinate
	coordsSet   bool
	ops         []string
}

func (f *fakeEmbeddingStore) DeleteForDataset(_ context.Context, _ string) (int64, error) {
	f.deleteCalls++
	f.ops = append(f.ops, "delete")
	return int64(len(f.vectors)), nil
}

func (f *fakeEmbeddingStore) InsertBatch(_ context.Context, embs []types.Embedding) error {
	f.batches = append(f.batches, embs)
	f.ops = append(f.ops, "insert")
	return nil
}

func (f *fakeEmbeddingStore) ListVectors(_ context.Context, _ string) ([]types.Embedding, error) {
	return f.vectors, nil
}

func (f *fakeEmbeddingStore) SetCoordinates(_ context.Context, _ string, coords []embeddings.Coordinate) error {
	f.coordsSet = true
	f.coords = coords
	return nil
}

// fakeFileReader serves bytes from a path-keyed map and records every read.
type fakeFileReader struct {
	files map[string][]byte
	reads []string
}

func (f *fakeFileReader) ReadBytes(_ context.Context, path string) ([]byte, error) {
	f.reads = append(f.reads, path)
	b, ok := f.files[path]
	if !ok {
		return nil, skerr.Fmt("no such file %s", path)
	}
	return b, nil
}

// fakeEncoder returns zero vectors of the configured width and records the
// size of each batch it sees.
type fakeEncoder struct {
	dim        int
	err        error
	batchSizes []int
}

func (f *fakeEncoder) Dim() int          { return f.dim }
func (f *fakeEncoder) ModelName() string { return "fake-encoder" }

func (f *fakeEncoder) Encode(_ context.Context, images []image.Image) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batchSizes = append(f.batchSizes, len(images))
	out := make([][]float32, len(images))
	for i := range images {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

// fakeIndex is a canned vector index: Points returns a fixed set and Query
// looks up the neighbour list of the point whose vector matches.
type fakeIndex struct {
	points    []vecstore.Point
	neighbors map[string][]vecstore.Neighbor

	ensured      []string
	invalidated  []string
	lastLimit    int
	lastMinScore float64
}

func (f *fakeIndex) EnsureCollection(_ context.Context, datasetID string) error {
	f.ensured = append(f.ensured, datasetID)
	return nil
}

func (f *fakeIndex) Invalidate(_ context.Context, datasetID string) error {
	f.invalidated = append(f.invalidated, datasetID)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ string, vector []float32, limit int, minScore float64) ([]vecstore.Neighbor, error) {
	f.lastLimit = limit
	f.lastMinScore = minScore
	for _, p := range f.points {
		if vectorsEqual(p.Vector, vector) {
			return f.neighbors[p.SampleID], nil
		}
	}
	return nil, nil
}

func (f *fakeIndex) Points(_ context.Context, _ string) ([]vecstore.Point, error) {
	return f.points, nil
}

var _ vecstore.Store = (*fakeIndex)(nil)

func vectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fakeTagger pops canned answers in call order.
type fakeTagger struct {
	answers []map[string]string
	errs    []error
	calls   int
}

func (f *fakeTagger) Tag(_ context.Context, _ image.Image, _ map[string]string) (map[string]string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.answers) {
		return f.answers[i], nil
	}
	return map[string]string{}, nil
}

// pngBytes returns a decodable w x h PNG.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// datasetFixture builds a dataset of n decodable samples s0..s(n-1) rooted
// at /images.
func datasetFixture(t *testing.T, n int) (*fakeSampleStore, *fakeDatasetStore, *fakeFileReader) {
	t.Helper()
	files := &fakeFileReader{files: map[string][]byte{}}
	all := make([]types.Sample, 0, n)
	for i := 0; i < n; i++ {
		id := "s" + strconv.Itoa(i)
		fileName := id + ".png"
		all = append(all, types.Sample{DatasetID: "ds1", ID: id, FileName: fileName})
		files.files["/images/"+fileName] = pngBytes(t, 2, 2)
	}
	sampleStore := &fakeSampleStore{all: all}
	datasetStore := &fakeDatasetStore{ds: types.Dataset{ID: "ds1", ImageDir: "/images"}}
	return sampleStore, datasetStore, files
}
