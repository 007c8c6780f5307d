// Package localvecstore implements vecstore.Store with in-memory
// brute-force cosine search, persisted as one gob file per dataset.
package localvecstore

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/vecstore"
)

// storedPoint holds the unit-normalized vector so a query reduces to a dot
// product. Exported fields for gob.
type storedPoint struct {
	SampleID string
	Unit     []float64
}

type collection struct {
	Points []storedPoint
}

// LocalVecStore keeps synced collections in memory and mirrors them to
// disk, so restarts skip the re-sync.
type LocalVecStore struct {
	dir    string
	source vecstore.VectorSource

	// mutex guards collections and the on-disk files.
	mutex       sync.Mutex
	collections map[string]*collection
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string, source vecstore.VectorSource) (*LocalVecStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, skerr.Wrapf(err, "creating vector index dir %q", dir)
	}
	return &LocalVecStore{
		dir:         dir,
		source:      source,
		collections: map[string]*collection{},
	}, nil
}

// EnsureCollection implements vecstore.Store.
func (s *LocalVecStore) EnsureCollection(ctx context.Context, datasetID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.ensureLocked(ctx, datasetID)
	return skerr.Wrap(err)
}

// Invalidate implements vecstore.Store.
func (s *LocalVecStore) Invalidate(ctx context.Context, datasetID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.collections, datasetID)
	if err := os.Remove(s.collectionFile(datasetID)); err != nil && !os.IsNotExist(err) {
		return skerr.Wrapf(err, "removing collection file for dataset %s", datasetID)
	}
	return nil
}

// Query implements vecstore.Store.
func (s *LocalVecStore) Query(ctx context.Context, datasetID string, vector []float32, limit int, minScore float64) ([]vecstore.Neighbor, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	c, err := s.ensureLocked(ctx, datasetID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	query := normalize(vector)
	neighbors := make([]vecstore.Neighbor, 0, len(c.Points))
	for _, p := range c.Points {
		if len(p.Unit) != len(query) {
			continue
		}
		score := floats.Dot(query, p.Unit)
		if score < minScore {
			continue
		}
		neighbors = append(neighbors, vecstore.Neighbor{SampleID: p.SampleID, Score: score})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		return neighbors[i].SampleID < neighbors[j].SampleID
	})
	if limit >= 0 && len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// Points implements vecstore.Store.
func (s *LocalVecStore) Points(ctx context.Context, datasetID string) ([]vecstore.Point, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	c, err := s.ensureLocked(ctx, datasetID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	points := make([]vecstore.Point, 0, len(c.Points))
	for _, p := range c.Points {
		v := make([]float32, len(p.Unit))
		for i, x := range p.Unit {
			v[i] = float32(x)
		}
		points = append(points, vecstore.Point{SampleID: p.SampleID, Vector: v})
	}
	return points, nil
}

// ensureLocked returns the dataset's collection, loading it from disk or
// syncing it from the source. Caller holds mutex.
func (s *LocalVecStore) ensureLocked(ctx context.Context, datasetID string) (*collection, error) {
	if c, ok := s.collections[datasetID]; ok {
		return c, nil
	}
	if c, err := s.loadFromDisk(datasetID); err != nil {
		sklog.Warningf("Discarding unreadable collection for dataset %s: %s", datasetID, err)
	} else if c != nil {
		s.collections[datasetID] = c
		return c, nil
	}

	c, err := s.syncFromSource(ctx, datasetID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	s.collections[datasetID] = c
	return c, nil
}

// loadFromDisk returns (nil, nil) when no file exists.
func (s *LocalVecStore) loadFromDisk(datasetID string) (*collection, error) {
	f, err := os.Open(s.collectionFile(datasetID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			sklog.Errorf("Closing collection file: %s", err)
		}
	}()
	c := &collection{}
	if err := gob.NewDecoder(f).Decode(c); err != nil {
		return nil, skerr.Wrapf(err, "decoding collection for dataset %s", datasetID)
	}
	return c, nil
}

func (s *LocalVecStore) syncFromSource(ctx context.Context, datasetID string) (*collection, error) {
	embs, err := s.source.ListVectors(ctx, datasetID)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing vectors for dataset %s", datasetID)
	}
	c := &collection{Points: make([]storedPoint, 0, len(embs))}
	for start := 0; start < len(embs); start += vecstore.DefaultSyncBatchSize {
		end := start + vecstore.DefaultSyncBatchSize
		if end > len(embs) {
			end = len(embs)
		}
		for _, emb := range embs[start:end] {
			if len(emb.Vector) == 0 {
				continue
			}
			c.Points = append(c.Points, storedPoint{
				SampleID: emb.SampleID,
				Unit:     normalize(emb.Vector),
			})
		}
		sklog.Infof("Synced %d/%d vectors for dataset %s", end, len(embs), datasetID)
	}
	if err := s.writeToDisk(datasetID, c); err != nil {
		return nil, skerr.Wrap(err)
	}
	return c, nil
}

func (s *LocalVecStore) writeToDisk(datasetID string, c *collection) error {
	// Write-then-rename so a crash never leaves a torn file behind.
	tmp, err := os.CreateTemp(s.dir, datasetID+".tmp-*")
	if err != nil {
		return skerr.Wrap(err)
	}
	if err := gob.NewEncoder(tmp).Encode(c); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return skerr.Wrapf(err, "encoding collection for dataset %s", datasetID)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return skerr.Wrap(err)
	}
	if err := os.Rename(tmp.Name(), s.collectionFile(datasetID)); err != nil {
		_ = os.Remove(tmp.Name())
		return skerr.Wrap(err)
	}
	return nil
}

func (s *LocalVecStore) collectionFile(datasetID string) string {
	return filepath.Join(s.dir, datasetID+".gob")
}

// normalize converts to float64 and scales to unit length. Zero vectors
// stay zero and score 0 against everything.
func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	if norm := floats.Norm(out, 2); norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out
}

// Confirm LocalVecStore implements vecstore.Store.
var _ vecstore.Store = (*LocalVecStore)(nil)
