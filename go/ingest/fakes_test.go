package ingest

import (
	"context"
	"sync"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/types"
)

// fakeDatasetStore keeps dataset rows in memory and logs every mutating
// call, so tests can tell a fresh create from a split accumulating into
// an existing dataset.
type fakeDatasetStore struct {
	datasets.Store
	mutex      sync.Mutex
	rows       map[string]types.Dataset
	categories []types.Category

	created   []types.Dataset
	addCounts []countCall
	refreshed []string
}

type countCall struct {
	id     string
	images int64
	anns   int64
}

func newFakeDatasetStore() *fakeDatasetStore {
	return &fakeDatasetStore{rows: map[string]types.Dataset{}}
}

func (f *fakeDatasetStore) Create(_ context.Context, d types.Dataset) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, ok := f.rows[d.ID]; ok {
		return apperror.New(apperror.Conflict, "dataset %s already exists", d.ID)
	}
	f.rows[d.ID] = d
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDatasetStore) Get(_ context.Context, id string) (types.Dataset, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	d, ok := f.rows[id]
	if !ok {
		return types.Dataset{}, apperror.New(apperror.NotFound, "dataset %s not found", id)
	}
	return d, nil
}

func (f *fakeDatasetStore) Exists(_ context.Context, id string) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	_, ok := f.rows[id]
	return ok, nil
}

func (f *fakeDatasetStore) AddCounts(_ context.Context, id string, images, anns int64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	d := f.rows[id]
	d.ImageCount += images
	d.AnnotationCount += anns
	f.rows[id] = d
	f.addCounts = append(f.addCounts, countCall{id: id, images: images, anns: anns})
	return nil
}

func (f *fakeDatasetStore) RefreshDerivedCounts(_ context.Context, id string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.refreshed = append(f.refreshed, id)
	return nil
}

func (f *fakeDatasetStore) InsertCategories(_ context.Context, cats []types.Category) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, c := range cats {
		dup := false
		for _, have := range f.categories {
			if have.DatasetID == c.DatasetID && have.ID == c.ID {
				dup = true
				break
			}
		}
		if !dup {
			f.categories = append(f.categories, c)
		}
	}
	return nil
}

func (f *fakeDatasetStore) ListCategories(_ context.Context, id string) ([]types.Category, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := []types.Category{}
	for _, c := range f.categories {
		if c.DatasetID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeSampleStore collects inserted samples. MissingThumbnails treats
// every stored sample as missing, matching a fresh ingest.
type fakeSampleStore struct {
	samples.Store
	mutex     sync.Mutex
	rows      []types.Sample
	insertErr error
}

func (f *fakeSampleStore) InsertBatch(_ context.Context, batch []types.Sample) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.rows = append(f.rows, batch...)
	return nil
}

func (f *fakeSampleStore) ListAll(_ context.Context, datasetID string) ([]types.Sample, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := []types.Sample{}
	for _, s := range f.rows {
		if s.DatasetID == datasetID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSampleStore) MissingThumbnails(_ context.Context, datasetID string, limit int) ([]types.Sample, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := []types.Sample{}
	for _, s := range f.rows {
		if s.DatasetID == datasetID && s.ThumbnailPath == "" && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

// fakeAnnotationStore collects inserted annotations and logs the order of
// mutating calls, so tests can check that a prediction re-import deletes
// the old run before inserting the new one.
type fakeAnnotationStore struct {
	annotations.Store
	mutex     sync.Mutex
	rows      []types.Annotation
	insertErr error
	ops       []string

	// deleteStarted and deleteRelease, when set, turn DeleteSource into a
	// rendezvous point for concurrency tests.
	deleteStarted chan struct{}
	deleteRelease chan struct{}
}

func (f *fakeAnnotationStore) InsertBatch(_ context.Context, batch []types.Annotation) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.rows = append(f.rows, batch...)
	f.ops = append(f.ops, "insert")
	return nil
}

func (f *fakeAnnotationStore) DeleteSource(_ context.Context, datasetID, source string) (int64, error) {
	f.mutex.Lock()
	started, release := f.deleteStarted, f.deleteRelease
	f.deleteStarted = nil
	f.mutex.Unlock()
	if started != nil {
		close(started)
		<-release
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	kept := f.rows[:0]
	var deleted int64
	for _, a := range f.rows {
		if a.DatasetID == datasetID && a.Source == source {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	f.rows = kept
	f.ops = append(f.ops, "delete:"+source)
	return deleted, nil
}

func (f *fakeAnnotationStore) bySource(source string) []types.Annotation {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := []types.Annotation{}
	for _, a := range f.rows {
		if a.Source == source {
			out = append(out, a)
		}
	}
	return out
}
