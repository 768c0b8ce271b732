// Package stats computes exposure-distribution statistics over cleaned
// records. Everything here is a pure function of its inputs.
package stats

import (
	"math"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brandscan/internal/model"
)

// ErrInsufficientData is returned when there are no cleaned records to
// aggregate; the engine never fabricates zero-filled distributions.
var ErrInsufficientData = eris.New("stats: insufficient data, no cleaned records")

// Options configures aggregation behavior.
type Options struct {
	// NormalizeQuestions folds case, whitespace, and punctuation when
	// grouping per-question stats, so near-duplicate questions aggregate
	// together. Default: true (via DefaultOptions).
	NormalizeQuestions bool

	// SignificantGapPercent is the gap threshold above which a competitor
	// is listed as significantly behind. Default: 20.
	SignificantGapPercent float64
}

// DefaultOptions returns the default aggregation options.
func DefaultOptions() Options {
	return Options{
		NormalizeQuestions:    true,
		SignificantGapPercent: 20,
	}
}

// Compute aggregates cleaned records into an exposure distribution.
// BrandShare values carry two decimals and sum to exactly 100.00 whenever
// TotalMentions > 0; Ranking orders brands by mentions descending with
// first-seen tie-breaking.
func Compute(records []model.CleanedRecord, opts Options) (*model.ExposureDistribution, error) {
	if len(records) == 0 {
		return nil, ErrInsufficientData
	}

	dist := &model.ExposureDistribution{
		TotalResponses: len(records),
		BrandCounts:    make(map[string]int),
		PerPlatform:    make(map[string]model.BrandBreakdown),
		PerQuestion:    make(map[string]model.BrandBreakdown),
	}

	var firstSeen []string
	seen := make(map[string]bool)

	platformCounts := make(map[string]map[string]int)
	platformResponses := make(map[string]int)
	questionCounts := make(map[string]map[string]int)
	questionResponses := make(map[string]int)

	for _, rec := range records {
		platformResponses[rec.ProviderID]++
		qKey := questionKey(rec.Question, opts)
		questionResponses[qKey]++

		for _, e := range rec.Entities {
			if !seen[e.Name] {
				seen[e.Name] = true
				firstSeen = append(firstSeen, e.Name)
			}
			dist.BrandCounts[e.Name]++
			dist.TotalMentions++

			if platformCounts[rec.ProviderID] == nil {
				platformCounts[rec.ProviderID] = make(map[string]int)
			}
			platformCounts[rec.ProviderID][e.Name]++

			if questionCounts[qKey] == nil {
				questionCounts[qKey] = make(map[string]int)
			}
			questionCounts[qKey][e.Name]++
		}
	}

	dist.BrandShare = shares(dist.BrandCounts, dist.TotalMentions, firstSeen)
	dist.Ranking = ranking(dist.BrandCounts, firstSeen)

	for platform, counts := range platformCounts {
		dist.PerPlatform[platform] = breakdown(counts, platformResponses[platform], firstSeen)
	}
	for platform, responses := range platformResponses {
		if _, ok := dist.PerPlatform[platform]; !ok {
			dist.PerPlatform[platform] = model.BrandBreakdown{
				Responses:   responses,
				BrandCounts: map[string]int{},
				BrandShare:  map[string]float64{},
			}
		}
	}

	for q, counts := range questionCounts {
		dist.PerQuestion[q] = breakdown(counts, questionResponses[q], firstSeen)
	}
	for q, responses := range questionResponses {
		if _, ok := dist.PerQuestion[q]; !ok {
			dist.PerQuestion[q] = model.BrandBreakdown{
				Responses:   responses,
				BrandCounts: map[string]int{},
				BrandShare:  map[string]float64{},
			}
		}
	}

	return dist, nil
}

var questionPunctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

func questionKey(q string, opts Options) string {
	if !opts.NormalizeQuestions {
		return q
	}
	q = strings.ToLower(q)
	q = questionPunctRe.ReplaceAllString(q, "")
	return strings.Join(strings.Fields(q), " ")
}

func breakdown(counts map[string]int, responses int, firstSeen []string) model.BrandBreakdown {
	total := 0
	for _, c := range counts {
		total += c
	}
	return model.BrandBreakdown{
		Responses:   responses,
		Mentions:    total,
		BrandCounts: counts,
		BrandShare:  shares(counts, total, firstSeen),
	}
}

// shares converts counts to two-decimal percentages. Rounding residue is
// folded into the largest share so the total lands on exactly 100.00.
func shares(counts map[string]int, total int, firstSeen []string) map[string]float64 {
	out := make(map[string]float64, len(counts))
	if total == 0 {
		return out
	}

	sum := 0.0
	var largest string
	largestCount := -1
	for _, name := range firstSeen {
		c, ok := counts[name]
		if !ok {
			continue
		}
		share := round2(float64(c) / float64(total) * 100)
		out[name] = share
		sum += share
		if c > largestCount {
			largestCount = c
			largest = name
		}
	}

	if largest != "" {
		residual := round2(100.00 - sum)
		if residual != 0 {
			out[largest] = round2(out[largest] + residual)
		}
	}
	return out
}

// ranking orders brands by mention count descending; equal counts keep
// first-seen order, so repeated runs on identical input are reproducible.
func ranking(counts map[string]int, firstSeen []string) []string {
	ranked := make([]string, 0, len(counts))
	ranked = append(ranked, firstSeen...)

	// Stable insertion sort on count descending preserves first-seen order
	// among ties.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && counts[ranked[j]] > counts[ranked[j-1]]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
