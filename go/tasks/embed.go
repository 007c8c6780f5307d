package tasks

import (
	"context"
	"fmt"
	"image"

	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/embedding"
	"github.com/visionlens/visionlens/go/embeddings"
	"github.com/visionlens/visionlens/go/imaging"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/types"
	"github.com/visionlens/visionlens/go/vecstore"
)

// embedBatchSize is how many images go through the encoder per forward
// pass.
const embedBatchSize = 32

// EmbedWorker generates one feature vector per sample of a dataset.
type EmbedWorker struct {
	samples  samples.Store
	datasets datasets.Store
	embs     embeddings.Store
	files    imaging.FileReader
	encoder  embedding.Encoder
	index    vecstore.Store
}

// NewEmbedWorker wires the embed task's dependencies.
func NewEmbedWorker(sampleStore samples.Store, datasetStore datasets.Store, embStore embeddings.Store, files imaging.FileReader, encoder embedding.Encoder, index vecstore.Store) *EmbedWorker {
	return &EmbedWorker{
		samples:  sampleStore,
		datasets: datasetStore,
		embs:     embStore,
		files:    files,
		encoder:  encoder,
		index:    index,
	}
}

// Run returns the task body for one dataset. Existing vectors are deleted
// up front so re-generation is idempotent, and the vector collection is
// invalidated at the end so similarity queries re-sync.
func (w *EmbedWorker) Run(datasetID string) RunFunc {
	return func(ctx context.Context, update func(Progress)) error {
		all, err := w.samples.ListAll(ctx, datasetID)
		if err != nil {
			return skerr.Wrap(err)
		}
		total := len(all)
		update(Progress{Status: StatusRunning, Total: total})
		if total == 0 {
			update(Progress{Status: StatusComplete, Message: "No samples to embed"})
			return nil
		}

		if _, err := w.embs.DeleteForDataset(ctx, datasetID); err != nil {
			return skerr.Wrap(err)
		}
		ds, err := w.datasets.Get(ctx, datasetID)
		if err != nil {
			return skerr.Wrap(err)
		}

		inserted, skipped := 0, 0
		for start := 0; start < total; start += embedBatchSize {
			end := start + embedBatchSize
			if end > total {
				end = total
			}

			ids := make([]string, 0, end-start)
			images := make([]image.Image, 0, end-start)
			for _, s := range all[start:end] {
				img, err := w.loadImage(ctx, ds, s)
				if err != nil {
					sklog.Warningf("Skipping sample %s: image not loadable: %s", s.ID, err)
					skipped++
					continue
				}
				ids = append(ids, s.ID)
				images = append(images, img)
			}

			if len(images) > 0 {
				vectors, err := w.encoder.Encode(ctx, images)
				if err != nil {
					return skerr.Wrapf(err, "encoding batch at offset %d", start)
				}
				rows := make([]types.Embedding, len(ids))
				for i, id := range ids {
					rows[i] = types.Embedding{
						DatasetID: datasetID,
						SampleID:  id,
						ModelName: w.encoder.ModelName(),
						Vector:    vectors[i],
					}
				}
				if err := w.embs.InsertBatch(ctx, rows); err != nil {
					return skerr.Wrap(err)
				}
				inserted += len(rows)
			}
			update(Progress{Status: StatusRunning, Processed: end, Total: total})
		}

		if err := w.index.Invalidate(ctx, datasetID); err != nil {
			sklog.Warningf("Invalidating vector collection for dataset %s: %s", datasetID, err)
		}

		msg := fmt.Sprintf("Generated %d embeddings", inserted)
		if skipped > 0 {
			msg = fmt.Sprintf("Generated %d embeddings (%d skipped)", inserted, skipped)
		}
		update(Progress{Status: StatusComplete, Processed: total, Total: total, Message: msg})
		sklog.Infof("Embedding generation complete for dataset %s: %d embeddings", datasetID, inserted)
		return nil
	}
}

func (w *EmbedWorker) loadImage(ctx context.Context, ds types.Dataset, s types.Sample) (image.Image, error) {
	// Split imports record a per-sample image dir; plain datasets use the
	// dataset-level one.
	dir := s.ImageDir
	if dir == "" {
		dir = ds.ImageDir
	}
	b, err := w.files.ReadBytes(ctx, storage.ResolveImagePath(dir, s.FileName))
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return imaging.Decode(b)
}
