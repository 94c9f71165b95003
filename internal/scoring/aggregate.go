package scoring

import (
	"math"

	"github.com/sells-group/lead-scoring/internal/model"
)

// Aggregate combines module results into a composite score under the lead
// type's configured weights. Weights of failed or skipped modules are
// redistributed proportionally across the surviving ones, so the composite
// stays on the [0, 100] scale no matter how many modules reported.
//
// Returns the composite (nil when no module succeeded) and the effective,
// normalized weights actually applied.
func Aggregate(results map[string]model.ModuleResult, weights map[string]float64) (*float64, map[string]float64) {
	total := 0.0
	for name, res := range results {
		if res.Failed() || res.Score == nil {
			continue
		}
		total += weights[name]
	}
	if total <= 0 {
		return nil, map[string]float64{}
	}

	used := make(map[string]float64)
	sum := 0.0
	for name, res := range results {
		if res.Failed() || res.Score == nil {
			continue
		}
		norm := weights[name] / total
		used[name] = norm
		sum += norm * *res.Score
	}

	composite := model.ClampScore(math.Round(sum*100) / 100)
	return &composite, used
}
