package web

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/imaging"
	"github.com/visionlens/visionlens/go/ingest"
	"github.com/visionlens/visionlens/go/plugins"
	"github.com/visionlens/visionlens/go/reduce"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/scanner"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/tasks"
	"github.com/visionlens/visionlens/go/triage"
	"github.com/visionlens/visionlens/go/types"
	"github.com/visionlens/visionlens/go/vecstore"
	"github.com/visionlens/visionlens/go/views"
)

// The fakes embed their interface so only the methods a handler under test
// actually calls need overriding; anything else panics loudly.

type fakeDatasetStore struct {
	datasets.Store

	mutex      sync.Mutex
	byID       map[string]types.Dataset
	categories map[string][]types.Category
	deleted    []string
}

func newFakeDatasetStore(ds ...types.Dataset) *fakeDatasetStore {
	f := &fakeDatasetStore{
		byID:       map[string]types.Dataset{},
		categories: map[string][]types.Category{},
	}
	for _, d := range ds {
		f.byID[d.ID] = d
	}
	return f
}

func (f *fakeDatasetStore) Get(_ context.Context, id string) (types.Dataset, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return types.Dataset{}, apperror.New(apperror.NotFound, "Dataset %s not found", id)
	}
	return d, nil
}

func (f *fakeDatasetStore) List(_ context.Context) ([]types.Dataset, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var out []types.Dataset
	for _, d := range f.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDatasetStore) Delete(_ context.Context, id string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, ok := f.byID[id]; !ok {
		return apperror.New(apperror.NotFound, "Dataset %s not found", id)
	}
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDatasetStore) ListCategories(_ context.Context, id string) ([]types.Category, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.categories[id], nil
}

type fakeSampleStore struct {
	samples.Store

	mutex      sync.Mutex
	byID       map[string]types.Sample
	searchOpts *samples.SearchOptions
	searchOut  []types.Sample
	tagged     map[string][]string
	triageTags map[string]string
}

func newFakeSampleStore(ss ...types.Sample) *fakeSampleStore {
	f := &fakeSampleStore{
		byID:       map[string]types.Sample{},
		tagged:     map[string][]string{},
		triageTags: map[string]string{},
	}
	for _, s := range ss {
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeSampleStore) Get(_ context.Context, _, sampleID string) (types.Sample, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	s, ok := f.byID[sampleID]
	if !ok {
		return types.Sample{}, apperror.New(apperror.NotFound, "Sample %s not found", sampleID)
	}
	return s, nil
}

func (f *fakeSampleStore) Search(_ context.Context, opts samples.SearchOptions) ([]types.Sample, int64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.searchOpts = &opts
	return f.searchOut, int64(len(f.searchOut)), nil
}

func (f *fakeSampleStore) ListAll(_ context.Context, _ string) ([]types.Sample, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var out []types.Sample
	for _, s := range f.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSampleStore) Splits(_ context.Context, _ string) ([]samples.SplitCount, error) {
	return nil, nil
}

func (f *fakeSampleStore) TagFacets(_ context.Context, _ string) ([]samples.TagCount, error) {
	return nil, nil
}

func (f *fakeSampleStore) AddTag(_ context.Context, _ string, sampleIDs []string, tag string) (int64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.tagged[tag] = append(f.tagged[tag], sampleIDs...)
	return int64(len(sampleIDs)), nil
}

func (f *fakeSampleStore) RemoveTag(_ context.Context, _ string, sampleIDs []string, tag string) (int64, error) {
	return int64(len(sampleIDs)), nil
}

func (f *fakeSampleStore) SetTriageTag(_ context.Context, _, sampleID, tag string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.triageTags[sampleID] = tag
	return nil
}

func (f *fakeSampleStore) RemoveTriageTags(_ context.Context, _, sampleID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.triageTags, sampleID)
	return nil
}

type fakeAnnotationStore struct {
	annotations.Store

	mutex     sync.Mutex
	byID      map[string]types.Annotation
	bySource  map[string][]types.Annotation
	created   []types.Annotation
	updated   []types.Annotation
	deletedID string
}

func newFakeAnnotationStore(anns ...types.Annotation) *fakeAnnotationStore {
	f := &fakeAnnotationStore{
		byID:     map[string]types.Annotation{},
		bySource: map[string][]types.Annotation{},
	}
	for _, a := range anns {
		f.byID[a.ID] = a
		f.bySource[a.Source] = append(f.bySource[a.Source], a)
	}
	return f
}

func (f *fakeAnnotationStore) Get(_ context.Context, _, annotationID string) (types.Annotation, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	a, ok := f.byID[annotationID]
	if !ok {
		return types.Annotation{}, apperror.New(apperror.NotFound, "Annotation %s not found", annotationID)
	}
	return a, nil
}

func (f *fakeAnnotationStore) ListBySample(_ context.Context, _, sampleID string, sources []string) ([]types.Annotation, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var out []types.Annotation
	for _, a := range f.byID {
		if a.SampleID != sampleID {
			continue
		}
		if len(sources) > 0 && !containsString(sources, a.Source) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAnnotationStore) ListBySamples(_ context.Context, _ string, sampleIDs []string, _ []string) (map[string][]types.Annotation, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := map[string][]types.Annotation{}
	for _, a := range f.byID {
		if containsString(sampleIDs, a.SampleID) {
			out[a.SampleID] = append(out[a.SampleID], a)
		}
	}
	return out, nil
}

func (f *fakeAnnotationStore) ListBySource(_ context.Context, _, source, _ string) ([]types.Annotation, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.bySource[source], nil
}

func (f *fakeAnnotationStore) Create(_ context.Context, a types.Annotation) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.created = append(f.created, a)
	return nil
}

func (f *fakeAnnotationStore) Update(_ context.Context, a types.Annotation) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.updated = append(f.updated, a)
	return nil
}

func (f *fakeAnnotationStore) Delete(_ context.Context, _, annotationID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.deletedID = annotationID
	return nil
}

type fakeViewStore struct {
	views.Store

	mutex   sync.Mutex
	created []types.SavedView
}

func (f *fakeViewStore) Create(_ context.Context, v types.SavedView) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.created = append(f.created, v)
	return nil
}

func (f *fakeViewStore) List(_ context.Context, _ string) ([]types.SavedView, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.created, nil
}

type fakeEmbeddingStore struct {
	embeddings.Store

	status embeddings.Status
	points []embeddings.Point
}

func (f *fakeEmbeddingStore) GetStatus(_ context.Context, datasetID string) (embeddings.Status, error) {
	st := f.status
	st.DatasetID = datasetID
	return st, nil
}

func (f *fakeEmbeddingStore) Coordinates(_ context.Context, _ string) ([]embeddings.Point, error) {
	return f.points, nil
}

func (f *fakeEmbeddingStore) ListVectors(_ context.Context, _ string) ([]types.Embedding, error) {
	return nil, nil
}

type fakeTriageStore struct {
	triage.Store

	mutex     sync.Mutex
	overrides map[string]types.TriageOverride
	deleted   []string
}

func newFakeTriageStore() *fakeTriageStore {
	return &fakeTriageStore{overrides: map[string]types.TriageOverride{}}
}

func (f *fakeTriageStore) Set(_ context.Context, o types.TriageOverride) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.overrides[o.AnnotationID] = o
	return nil
}

func (f *fakeTriageStore) Delete(_ context.Context, _, _, annotationID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.overrides, annotationID)
	f.deleted = append(f.deleted, annotationID)
	return nil
}

func (f *fakeTriageStore) ListBySample(_ context.Context, _, _ string) ([]types.TriageOverride, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var out []types.TriageOverride
	for _, o := range f.overrides {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnnotationID < out[j].AnnotationID })
	return out, nil
}

type fakeVecStore struct {
	vecstore.Store

	invalidated []string
}

func (f *fakeVecStore) Invalidate(_ context.Context, datasetID string) error {
	f.invalidated = append(f.invalidated, datasetID)
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// testFixture bundles the fakes with a ready-to-serve router.
type testFixture struct {
	datasets    *fakeDatasetStore
	samples     *fakeSampleStore
	annotations *fakeAnnotationStore
	views       *fakeViewStore
	embeddings  *fakeEmbeddingStore
	overrides   *fakeTriageStore
	index       *fakeVecStore
	engine      *tasks.Engine
	handlers    *Handlers
	router      *chi.Mux
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ctx := context.Background()
	engine, err := tasks.NewEngine(ctx)
	require.NoError(t, err)

	files := storage.New("")
	thumbs, err := imaging.New(t.TempDir(), files)
	require.NoError(t, err)

	f := &testFixture{
		datasets:    newFakeDatasetStore(),
		samples:     newFakeSampleStore(),
		annotations: newFakeAnnotationStore(),
		views:       &fakeViewStore{},
		embeddings:  &fakeEmbeddingStore{},
		overrides:   newFakeTriageStore(),
		index:       &fakeVecStore{},
		engine:      engine,
	}
	f.handlers = &Handlers{
		Datasets:     f.datasets,
		Samples:      f.samples,
		Annotations:  f.annotations,
		Views:        f.views,
		Embeddings:   f.embeddings,
		Overrides:    f.overrides,
		Files:        files,
		Thumbnails:   thumbs,
		Scanner:      scanner.New(files),
		Ingester:     ingest.New(f.datasets, f.samples, f.annotations, files, thumbs, plugins.NewHost()),
		Index:        f.index,
		Engine:       engine,
		ReduceWorker: tasks.NewReduceWorker(f.embeddings, reduce.Native{}),
		NearDup:      tasks.NewNearDuplicateWorker(f.index),
	}
	f.router = f.handlers.Router(ctx)
	return f
}

// blockTask occupies (datasetID, taskType) until the returned release func
// is called.
func (f *testFixture) blockTask(t *testing.T, datasetID string, taskType tasks.Type) func() {
	t.Helper()
	release := make(chan struct{})
	err := f.engine.Launch(datasetID, taskType, func(ctx context.Context, update func(tasks.Progress)) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	return func() { close(release) }
}
