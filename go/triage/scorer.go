package triage

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/visionlens/visionlens/go/eval"
)

// Composite score weights. Error count dominates; the confidence spread of
// the errored predictions breaks up samples with equal counts.
const (
	errorWeight  = 0.6
	spreadWeight = 0.4
)

// DefaultWorstImagesLimit caps the ranking payload unless the caller asks
// for more.
const DefaultWorstImagesLimit = 50

// TriageScore is one sample's composite error score.
type TriageScore struct {
	SampleID         string  `json:"sample_id"`
	ErrorCount       int     `json:"error_count"`
	ConfidenceSpread float64 `json:"confidence_spread"`
	Score            float64 `json:"score"`
}

// WorstImages ranks samples by composite error score, worst first. A
// sample's error count is every non-TP detection at the operating point;
// its spread is the population standard deviation of the errored
// predictions' confidences. Both are normalized by the dataset-wide maximum
// before weighting, so scores stay in [0, 1]. Samples without errors are
// omitted.
func WorstImages(samples []eval.SampleDetections, iouThreshold, confThreshold float64, limit int) []TriageScore {
	stats := eval.PerSampleErrorStats(samples, iouThreshold, confThreshold)
	if len(stats) == 0 {
		return []TriageScore{}
	}

	spreads := make([]float64, len(stats))
	maxErrors := 0
	maxSpread := 0.0
	for i, st := range stats {
		if st.ErrorCount > maxErrors {
			maxErrors = st.ErrorCount
		}
		spreads[i] = spread(st.Confidences)
		if spreads[i] > maxSpread {
			maxSpread = spreads[i]
		}
	}
	if maxErrors == 0 {
		maxErrors = 1
	}
	if maxSpread == 0 {
		maxSpread = 1.0
	}

	scored := make([]TriageScore, 0, len(stats))
	for i, st := range stats {
		normErrors := float64(st.ErrorCount) / float64(maxErrors)
		normSpread := spreads[i] / maxSpread
		scored = append(scored, TriageScore{
			SampleID:         st.SampleID,
			ErrorCount:       st.ErrorCount,
			ConfidenceSpread: round4(spreads[i]),
			Score:            round4(errorWeight*normErrors + spreadWeight*normSpread),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].SampleID < scored[j].SampleID
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// spread is the population standard deviation, 0 with fewer than two
// values.
func spread(confidences []float64) float64 {
	if len(confidences) < 2 {
		return 0
	}
	return stat.PopStdDev(confidences, nil)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
