package tasks

import (
	"context"
	"fmt"

	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/imaging"
	"github.com/visionlens/visionlens/go/samples"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/vlmtag"
)

// AutoTagWorker runs the vision-language prompts over every sample and
// merges the validated answers into the sample's tag set. User-applied
// tags are never removed.
type AutoTagWorker struct {
	samples  samples.Store
	datasets datasets.Store
	files    imaging.FileReader
	tagger   vlmtag.Tagger
}

// NewAutoTagWorker wires the auto-tag task's dependencies.
func NewAutoTagWorker(sampleStore samples.Store, datasetStore datasets.Store, files imaging.FileReader, tagger vlmtag.Tagger) *AutoTagWorker {
	return &AutoTagWorker{
		samples:  sampleStore,
		datasets: datasetStore,
		files:    files,
		tagger:   tagger,
	}
}

// Run returns the task body for one dataset.
func (w *AutoTagWorker) Run(datasetID string) RunFunc {
	return func(ctx context.Context, update func(Progress)) error {
		all, err := w.samples.ListAll(ctx, datasetID)
		if err != nil {
			return skerr.Wrap(err)
		}
		total := len(all)
		update(Progress{Status: StatusRunning, Total: total})
		if total == 0 {
			update(Progress{Status: StatusComplete, Message: "No samples to tag"})
			return nil
		}

		ds, err := w.datasets.Get(ctx, datasetID)
		if err != nil {
			return skerr.Wrap(err)
		}

		tagged := 0
		for i, s := range all {
			if err := ctx.Err(); err != nil {
				return skerr.Wrap(err)
			}

			dir := s.ImageDir
			if dir == "" {
				dir = ds.ImageDir
			}
			tags, err := w.tagOne(ctx, storage.ResolveImagePath(dir, s.FileName))
			if err != nil {
				sklog.Warningf("Skipping sample %s: %s", s.ID, err)
			} else if len(tags) > 0 {
				for _, tag := range tags {
					if _, err := w.samples.AddTag(ctx, datasetID, []string{s.ID}, tag); err != nil {
						return skerr.Wrapf(err, "merging tags into sample %s", s.ID)
					}
				}
				tagged++
			}

			update(Progress{Status: StatusRunning, Processed: i + 1, Total: total})
		}

		update(Progress{
			Status:    StatusComplete,
			Processed: total,
			Total:     total,
			Message:   fmt.Sprintf("Tagged %d/%d samples", tagged, total),
		})
		sklog.Infof("Auto-tagging complete for dataset %s: %d/%d tagged", datasetID, tagged, total)
		return nil
	}
}

// tagOne loads one image and returns its validated tags.
func (w *AutoTagWorker) tagOne(ctx context.Context, imagePath string) ([]string, error) {
	b, err := w.files.ReadBytes(ctx, imagePath)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	img, err := imaging.Decode(b)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	answers, err := w.tagger.Tag(ctx, img, vlmtag.Prompts)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return vlmtag.ValidTagsFor(answers), nil
}
