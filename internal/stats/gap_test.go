package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandscan/internal/model"
)

func distWithCounts(counts map[string]int) *model.ExposureDistribution {
	return &model.ExposureDistribution{BrandCounts: counts}
}

func TestAnalyzeGapsCompetitorZero(t *testing.T) {
	dist := distWithCounts(map[string]int{"Main": 10})

	ga := AnalyzeGaps(dist, "Main", []string{"Rival"}, DefaultOptions())

	require.Len(t, ga.Competitors, 1)
	g := ga.Competitors[0]
	assert.Equal(t, "Rival", g.Name)
	assert.Equal(t, 10, g.AbsoluteGap)
	assert.InDelta(t, 100.0, g.GapPercent, 1e-9)
	assert.True(t, g.Leading)
	assert.Contains(t, ga.SignificantGaps, "Rival")
}

func TestAnalyzeGapsBothZero(t *testing.T) {
	dist := distWithCounts(map[string]int{})

	ga := AnalyzeGaps(dist, "Main", []string{"Rival"}, DefaultOptions())

	g := ga.Competitors[0]
	assert.Zero(t, g.GapPercent)
	assert.False(t, g.Leading)
	assert.Empty(t, ga.SignificantGaps)
}

func TestAnalyzeGapsMainBehind(t *testing.T) {
	dist := distWithCounts(map[string]int{"Main": 4, "Rival": 8})

	ga := AnalyzeGaps(dist, "Main", []string{"Rival"}, DefaultOptions())

	g := ga.Competitors[0]
	assert.Equal(t, -4, g.AbsoluteGap)
	assert.InDelta(t, -100.0, g.GapPercent, 1e-9)
	assert.False(t, g.Leading)
	assert.Empty(t, ga.SignificantGaps)
}

func TestAnalyzeGapsMainZeroCompetitorAhead(t *testing.T) {
	dist := distWithCounts(map[string]int{"Rival": 5})

	ga := AnalyzeGaps(dist, "Main", []string{"Rival"}, DefaultOptions())

	g := ga.Competitors[0]
	assert.InDelta(t, -100.0, g.GapPercent, 1e-9)
	assert.False(t, g.Leading)
}

func TestAnalyzeGapsSignificanceThreshold(t *testing.T) {
	dist := distWithCounts(map[string]int{"Main": 10, "Close": 9, "Far": 2})

	opts := DefaultOptions()
	opts.SignificantGapPercent = 20

	ga := AnalyzeGaps(dist, "Main", []string{"Close", "Far"}, opts)

	assert.Equal(t, 10, ga.MainMentions)
	require.Len(t, ga.Competitors, 2)

	// Close: gap 10%, leading but below threshold.
	assert.True(t, ga.Competitors[0].Leading)
	assert.InDelta(t, 10.0, ga.Competitors[0].GapPercent, 1e-9)

	// Far: gap 80%, significant.
	assert.InDelta(t, 80.0, ga.Competitors[1].GapPercent, 1e-9)
	assert.Equal(t, []string{"Far"}, ga.SignificantGaps)
}
