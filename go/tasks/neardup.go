package tasks

import (
	"context"
	"fmt"

	gocache "github.com/patrickmn/go-cache"

	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/unionfind"
	"github.com/visionlens/visionlens/go/vecstore"
)

// DefaultNearDuplicateThreshold is the minimum cosine similarity for two
// images to count as near-duplicates.
const DefaultNearDuplicateThreshold = 0.95

// nearDupNeighborLimit bounds how many neighbours each point's query
// returns. The query vector's own point occupies one slot.
const nearDupNeighborLimit = 10

// progressEvery throttles scanning-phase updates.
const progressEvery = 10

// DuplicateGroup is one connected component of near-identical images.
type DuplicateGroup struct {
	SampleIDs []string `json:"sample_ids"`
	Size      int      `json:"size"`
}

// NearDuplicateResult is the report of one detection run, cached per
// dataset until the next run or an embedding regeneration.
type NearDuplicateResult struct {
	Groups          []DuplicateGroup `json:"groups"`
	TotalGroups     int              `json:"total_groups"`
	TotalDuplicates int              `json:"total_duplicates"`
	Threshold       float64          `json:"threshold"`
}

// NearDuplicateWorker finds groups of near-identical images by querying
// the vector index around every point and merging hits with union-find.
type NearDuplicateWorker struct {
	index   vecstore.Store
	results *gocache.Cache
}

// NewNearDuplicateWorker wires the near-duplicate task's dependencies.
func NewNearDuplicateWorker(index vecstore.Store) *NearDuplicateWorker {
	return &NearDuplicateWorker{
		index:   index,
		results: gocache.New(gocache.NoExpiration, 0),
	}
}

// Results returns the cached report of the last completed run, if any.
func (w *NearDuplicateWorker) Results(datasetID string) (NearDuplicateResult, bool) {
	v, ok := w.results.Get(datasetID)
	if !ok {
		return NearDuplicateResult{}, false
	}
	return v.(NearDuplicateResult), true
}

// InvalidateResults drops the cached report, e.g. when the dataset is
// deleted.
func (w *NearDuplicateWorker) InvalidateResults(datasetID string) {
	w.results.Delete(datasetID)
}

// Run returns the task body for one dataset at the given similarity
// threshold.
func (w *NearDuplicateWorker) Run(datasetID string, threshold float64) RunFunc {
	return func(ctx context.Context, update func(Progress)) error {
		if err := w.index.EnsureCollection(ctx, datasetID); err != nil {
			return skerr.Wrap(err)
		}
		points, err := w.index.Points(ctx, datasetID)
		if err != nil {
			return skerr.Wrap(err)
		}

		total := len(points)
		if total == 0 {
			w.results.Set(datasetID, NearDuplicateResult{
				Groups:    []DuplicateGroup{},
				Threshold: threshold,
			}, gocache.NoExpiration)
			update(Progress{Status: StatusComplete, Message: "No embeddings found"})
			return nil
		}

		update(Progress{
			Status:  StatusScanning,
			Total:   total,
			Message: fmt.Sprintf("Scanning %d embeddings...", total),
		})

		uf := unionfind.New()
		ids := make([]string, total)
		for i, p := range points {
			if err := ctx.Err(); err != nil {
				return skerr.Wrap(err)
			}
			ids[i] = p.SampleID

			neighbors, err := w.index.Query(ctx, datasetID, p.Vector, nearDupNeighborLimit, threshold)
			if err != nil {
				return skerr.Wrapf(err, "querying neighbours of sample %s", p.SampleID)
			}
			for _, n := range neighbors {
				if n.SampleID != p.SampleID {
					uf.Union(p.SampleID, n.SampleID)
				}
			}

			if i%progressEvery == 0 || i == total-1 {
				update(Progress{
					Status:    StatusScanning,
					Processed: i + 1,
					Total:     total,
					Message:   fmt.Sprintf("Scanning %d/%d embeddings...", i+1, total),
				})
			}
		}

		update(Progress{
			Status:    StatusGrouping,
			Processed: total,
			Total:     total,
			Message:   "Grouping duplicates...",
		})

		groups := []DuplicateGroup{}
		totalDuplicates := 0
		for _, members := range uf.Groups(ids, 2) {
			groups = append(groups, DuplicateGroup{SampleIDs: members, Size: len(members)})
			totalDuplicates += len(members)
		}

		result := NearDuplicateResult{
			Groups:          groups,
			TotalGroups:     len(groups),
			TotalDuplicates: totalDuplicates,
			Threshold:       threshold,
		}
		w.results.Set(datasetID, result, gocache.NoExpiration)

		update(Progress{
			Status:    StatusComplete,
			Processed: total,
			Total:     total,
			Message:   fmt.Sprintf("Found %d duplicate groups (%d images)", len(groups), totalDuplicates),
		})
		sklog.Infof("Near-duplicate detection complete for dataset %s: %d groups", datasetID, len(groups))
		return nil
	}
}
