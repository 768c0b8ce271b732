package stats

import (
	"github.com/sells-group/brandscan/internal/model"
)

// AnalyzeGaps compares the main brand's mention count against each declared
// competitor. Gap percent is relative to the main brand's count: 100 when
// the competitor has no mentions and the main brand has some, 0 when both
// have none.
func AnalyzeGaps(dist *model.ExposureDistribution, mainBrand string, competitors []string, opts Options) *model.GapAnalysis {
	main := dist.BrandCounts[mainBrand]

	analysis := &model.GapAnalysis{
		MainBrand:    mainBrand,
		MainMentions: main,
	}

	threshold := opts.SignificantGapPercent
	if threshold <= 0 {
		threshold = DefaultOptions().SignificantGapPercent
	}

	for _, comp := range competitors {
		count := dist.BrandCounts[comp]
		gap := model.CompetitorGap{
			Name:        comp,
			Mentions:    count,
			AbsoluteGap: main - count,
			GapPercent:  gapPercent(main, count),
			Leading:     main > count,
		}
		analysis.Competitors = append(analysis.Competitors, gap)

		if gap.Leading && gap.GapPercent >= threshold {
			analysis.SignificantGaps = append(analysis.SignificantGaps, comp)
		}
	}

	return analysis
}

func gapPercent(main, competitor int) float64 {
	switch {
	case main == 0 && competitor == 0:
		return 0
	case competitor == 0:
		return 100.0
	case main == 0:
		return -100.0
	default:
		return round2(float64(main-competitor) / float64(main) * 100)
	}
}
