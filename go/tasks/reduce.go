package tasks

import (
	"context"
	"fmt"

	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/reduce"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
)

// ReduceWorker projects a dataset's vectors onto the plane and writes the
// x/y columns back in place. Re-running overwrites previous coordinates.
type ReduceWorker struct {
	embs    embeddings.Store
	reducer reduce.Reducer
}

// NewReduceWorker wires the reduce task's dependencies.
func NewReduceWorker(embStore embeddings.Store, reducer reduce.Reducer) *ReduceWorker {
	return &ReduceWorker{embs: embStore, reducer: reducer}
}

// Run returns the task body for one dataset.
func (w *ReduceWorker) Run(datasetID string, params reduce.Params) RunFunc {
	return func(ctx context.Context, update func(Progress)) error {
		update(Progress{Status: StatusRunning, Message: "Loading embeddings from database"})

		rows, err := w.embs.ListVectors(ctx, datasetID)
		if err != nil {
			return skerr.Wrap(err)
		}
		if len(rows) == 0 {
			update(Progress{
				Status:  StatusError,
				Message: "No embeddings found. Run embedding generation first.",
			})
			return nil
		}

		n := len(rows)
		update(Progress{
			Status:  StatusFitting,
			Total:   n,
			Message: fmt.Sprintf("Fitting 2-D layout for %d embeddings...", n),
		})

		vectors := make([][]float32, n)
		for i, row := range rows {
			vectors[i] = row.Vector
		}
		layout, err := w.reducer.Reduce(ctx, vectors, params)
		if err != nil {
			return skerr.Wrapf(err, "reducing %d vectors", n)
		}

		coords := make([]embeddings.Coordinate, n)
		for i, row := range rows {
			coords[i] = embeddings.Coordinate{SampleID: row.SampleID, X: layout[i][0], Y: layout[i][1]}
		}
		if err := w.embs.SetCoordinates(ctx, datasetID, coords); err != nil {
			return skerr.Wrap(err)
		}

		update(Progress{
			Status:    StatusComplete,
			Processed: n,
			Total:     n,
			Message:   fmt.Sprintf("Reduced %d embeddings to 2D", n),
		})
		sklog.Infof("Reduction complete for dataset %s: %d embeddings -> 2D", datasetID, n)
		return nil
	}
}
