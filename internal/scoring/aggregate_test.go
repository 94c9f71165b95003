package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-scoring/internal/model"
)

func ptr(f float64) *float64 { return &f }

func TestAggregate_AllSucceed(t *testing.T) {
	weights := map[string]float64{
		ModuleOpportunitySize: 0.3,
		ModuleMessageAnalysis: 0.4,
		ModulePersonRole:      0.3,
	}
	results := map[string]model.ModuleResult{
		ModuleOpportunitySize: model.Succeeded(80, ""),
		ModuleMessageAnalysis: model.Succeeded(90, ""),
		ModulePersonRole:      model.Succeeded(70, ""),
	}

	composite, used := Aggregate(results, weights)
	require.NotNil(t, composite)
	assert.InDelta(t, 0.3*80+0.4*90+0.3*70, *composite, 0.001)
	assert.InDelta(t, 0.4, used[ModuleMessageAnalysis], 0.001)
}

func TestAggregate_FailedWeightRedistributed(t *testing.T) {
	weights := map[string]float64{
		ModuleOpportunitySize: 0.3,
		ModuleMessageAnalysis: 0.4,
		ModulePersonRole:      0.3,
	}
	results := map[string]model.ModuleResult{
		ModuleOpportunitySize: model.Succeeded(80, ""),
		ModuleMessageAnalysis: {Error: "llm timed out"},
		ModulePersonRole:      model.Succeeded(60, ""),
	}

	composite, used := Aggregate(results, weights)
	require.NotNil(t, composite)
	// (0.3*80 + 0.3*60) / 0.6
	assert.InDelta(t, 70.0, *composite, 0.001)
	assert.InDelta(t, 0.5, used[ModuleOpportunitySize], 0.001)
	assert.InDelta(t, 0.5, used[ModulePersonRole], 0.001)
	_, ok := used[ModuleMessageAnalysis]
	assert.False(t, ok)
}

func TestAggregate_SingleSurvivor(t *testing.T) {
	weights := map[string]float64{
		ModuleOpportunitySize: 0.5,
		ModulePersonRole:      0.5,
	}
	results := map[string]model.ModuleResult{
		ModuleOpportunitySize: model.Succeeded(42, ""),
		ModulePersonRole:      {Error: "boom"},
	}

	composite, used := Aggregate(results, weights)
	require.NotNil(t, composite)
	assert.Equal(t, 42.0, *composite)
	assert.InDelta(t, 1.0, used[ModuleOpportunitySize], 0.001)
}

func TestAggregate_AllFailed(t *testing.T) {
	weights := map[string]float64{
		ModuleOpportunitySize: 0.5,
		ModulePersonRole:      0.5,
	}
	results := map[string]model.ModuleResult{
		ModuleOpportunitySize: {Error: "a"},
		ModulePersonRole:      {Error: "b"},
	}

	composite, used := Aggregate(results, weights)
	assert.Nil(t, composite)
	assert.Empty(t, used)
}

func TestAggregate_SkippedModuleNotInResults(t *testing.T) {
	// Inbound lead with no message: the message module never ran, so it is
	// absent from results and its weight redistributes.
	weights := DefaultDocument().WeightsFor(model.LeadTypeInbound)
	results := map[string]model.ModuleResult{
		ModuleOpportunitySize: model.Succeeded(50, ""),
		ModulePersonRole:      model.Succeeded(90, ""),
	}

	composite, _ := Aggregate(results, weights)
	require.NotNil(t, composite)
	assert.InDelta(t, 70.0, *composite, 0.001)
}

func TestTierFor(t *testing.T) {
	doc := DefaultDocument()

	assert.Equal(t, "A-Priority", TierFor(doc, ptr(87)))
	assert.Equal(t, "A-Priority", TierFor(doc, ptr(75)))
	assert.Equal(t, "B-Monitor", TierFor(doc, ptr(74.9)))
	assert.Equal(t, "C-Routine", TierFor(doc, ptr(0)))
	assert.Equal(t, "", TierFor(doc, nil))
}

func TestFormatDisplay(t *testing.T) {
	assert.Equal(t, "A-Priority [87]", FormatDisplay("A-Priority", ptr(87.2)))
	assert.Equal(t, "", FormatDisplay("", nil))
}

func TestFormatDetails(t *testing.T) {
	record := &model.ScoredRecord{
		ModuleResults: map[string]model.ModuleResult{
			ModulePersonRole:      model.Succeeded(90, "title \"CTO\" classified as c_suite"),
			ModuleMessageAnalysis: {Error: "llm timed out"},
		},
		ScoredAt: time.Now(),
	}
	details := FormatDetails(record)
	assert.Contains(t, details, "person_role: 90")
	assert.Contains(t, details, "message_analysis: unavailable (llm timed out)")
}
