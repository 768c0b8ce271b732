package model

// BrandBreakdown holds mention counts and shares for one aggregation slice
// (a platform or a question).
type BrandBreakdown struct {
	Responses   int                `json:"responses"`
	Mentions    int                `json:"mentions"`
	BrandCounts map[string]int     `json:"brand_counts"`
	BrandShare  map[string]float64 `json:"brand_share"`
}

// ExposureDistribution is the aggregate exposure statistics for a run.
// When TotalMentions > 0, BrandShare sums to exactly 100.00 and Ranking is
// totally ordered by mentions descending with first-seen tie-breaking.
type ExposureDistribution struct {
	TotalResponses int                       `json:"total_responses"`
	TotalMentions  int                       `json:"total_mentions"`
	BrandCounts    map[string]int            `json:"brand_counts"`
	BrandShare     map[string]float64        `json:"brand_share"`
	PerPlatform    map[string]BrandBreakdown `json:"per_platform"`
	PerQuestion    map[string]BrandBreakdown `json:"per_question"`
	Ranking        []string                  `json:"ranking"`
}

// CompetitorGap measures one competitor against the main brand.
type CompetitorGap struct {
	Name        string  `json:"name"`
	Mentions    int     `json:"mentions"`
	AbsoluteGap int     `json:"absolute_gap"`
	GapPercent  float64 `json:"gap_percent"`
	Leading     bool    `json:"leading"`
}

// GapAnalysis compares the main brand's exposure against each declared
// competitor.
type GapAnalysis struct {
	MainBrand       string          `json:"main_brand"`
	MainMentions    int             `json:"main_mentions"`
	Competitors     []CompetitorGap `json:"competitors"`
	SignificantGaps []string        `json:"significant_gaps,omitempty"`
}

// ProviderCallStats summarizes adapter traffic for one provider over a run.
type ProviderCallStats struct {
	Calls        int               `json:"calls"`
	Successes    int               `json:"successes"`
	Failures     map[string]int    `json:"failures,omitempty"`
	LatencyMinMs int64             `json:"latency_min_ms"`
	LatencyAvgMs int64             `json:"latency_avg_ms"`
	LatencyMaxMs int64             `json:"latency_max_ms"`
	BreakerState string            `json:"breaker_state,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// RunReport is the final payload handed to the persistence collaborator.
type RunReport struct {
	Exposure         *ExposureDistribution        `json:"exposure,omitempty"`
	Gap              *GapAnalysis                 `json:"gap,omitempty"`
	Cleaned          []CleanedRecord              `json:"cleaned,omitempty"`
	Providers        map[string]ProviderCallStats `json:"providers,omitempty"`
	TotalTasks       int                          `json:"total_tasks"`
	CompletedTasks   int                          `json:"completed_tasks"`
	SucceededTasks   int                          `json:"succeeded_tasks"`
	FailedTasks      int                          `json:"failed_tasks"`
	Usage            TokenUsage                   `json:"usage"`
	InsufficientData bool                         `json:"insufficient_data,omitempty"`
	Reason           string                       `json:"reason,omitempty"`
}
