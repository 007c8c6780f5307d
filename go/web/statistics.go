package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/visionlens/visionlens/go/annotations"
	"github.com/visionlens/visionlens/go/datasets"
	"github.com/visionlens/visionlens/go/samples"
)

// statisticsApi serves the aggregated per-dataset statistics panel.
type statisticsApi struct {
	datasets    datasets.Store
	samples     samples.Store
	annotations annotations.Store
}

func newStatisticsApi(ds datasets.Store, ss samples.Store, as annotations.Store) statisticsApi {
	return statisticsApi{datasets: ds, samples: ss, annotations: as}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a statisticsApi) RegisterHandlers(router *chi.Mux) {
	router.Get("/datasets/{id}/statistics", a.statisticsHandler)
}

// ClassDistribution is one per-class row of the statistics response.
type ClassDistribution struct {
	CategoryName string `json:"category_name"`
	GTCount      int64  `json:"gt_count"`
	PredCount    int64  `json:"pred_count"`
}

// SplitBucket is one split's sample count.
type SplitBucket struct {
	SplitName string `json:"split_name"`
	Count     int64  `json:"count"`
}

// StatisticsSummary holds the dataset-wide totals.
type StatisticsSummary struct {
	TotalImages     int64 `json:"total_images"`
	GTAnnotations   int64 `json:"gt_annotations"`
	PredAnnotations int64 `json:"pred_annotations"`
	TotalCategories int64 `json:"total_categories"`
}

// DatasetStatistics is the statistics response.
type DatasetStatistics struct {
	ClassDistribution []ClassDistribution `json:"class_distribution"`
	SplitBreakdown    []SplitBucket       `json:"split_breakdown"`
	Summary           StatisticsSummary   `json:"summary"`
}

// statisticsHandler aggregates per-class counts, the split breakdown and
// summary totals. An optional ?split= narrows the class distribution and
// image total to one split; the breakdown always covers the whole dataset.
func (a statisticsApi) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	split := r.URL.Query().Get("split")

	d, err := a.datasets.Get(ctx, id)
	if err != nil {
		reportError(w, err)
		return
	}
	counts, err := a.annotations.CountsByCategory(ctx, id, split)
	if err != nil {
		reportError(w, err)
		return
	}
	splits, err := a.samples.Splits(ctx, id)
	if err != nil {
		reportError(w, err)
		return
	}

	dist := make([]ClassDistribution, len(counts))
	var gt, preds int64
	for i, c := range counts {
		dist[i] = ClassDistribution{CategoryName: c.Name, GTCount: c.GroundTruth, PredCount: c.Predictions}
		gt += c.GroundTruth
		preds += c.Predictions
	}

	totalImages := d.ImageCount
	if split != "" {
		totalImages = 0
		for _, b := range splits {
			if b.Split == split {
				totalImages = b.Count
			}
		}
	}

	buckets := make([]SplitBucket, len(splits))
	for i, b := range splits {
		buckets[i] = SplitBucket{SplitName: b.Split, Count: b.Count}
	}

	sendJSONResponse(w, DatasetStatistics{
		ClassDistribution: dist,
		SplitBreakdown:    buckets,
		Summary: StatisticsSummary{
			TotalImages:     totalImages,
			GTAnnotations:   gt,
			PredAnnotations: preds,
			TotalCategories: int64(len(dist)),
		},
	})
}
