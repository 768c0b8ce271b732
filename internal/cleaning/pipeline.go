// Package cleaning turns raw provider responses into validated, feature-rich
// cleaned records through a fixed sequence of idempotent steps.
package cleaning

import (
	"go.uber.org/zap"

	"github.com/sells-group/brandscan/internal/model"
)

// Version identifies the step set; stamped on every cleaned record.
const Version = "1.0"

// Options configures the cleaning pipeline.
type Options struct {
	// MaxTextLength clamps cleaned text; longer text is truncated and
	// flagged. Default: 8000.
	MaxTextLength int

	// MinTextLength below which validation records a warning. Default: 20.
	MinTextLength int

	// CaseSensitive controls entity matching. Default: false.
	CaseSensitive bool

	// ContextWindow is the number of characters captured around each entity
	// mention. Default: 60.
	ContextWindow int

	// Weights for the quality sub-scores. Zero-value weights fall back to
	// the defaults (0.3 length-fit, 0.3 completeness, 0.4 relevance).
	LengthFitWeight    float64
	CompletenessWeight float64
	RelevanceWeight    float64
}

// DefaultOptions returns the default pipeline configuration.
func DefaultOptions() Options {
	return Options{
		MaxTextLength:      8000,
		MinTextLength:      20,
		ContextWindow:      60,
		LengthFitWeight:    0.3,
		CompletenessWeight: 0.3,
		RelevanceWeight:    0.4,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = 8000
	}
	if o.MinTextLength <= 0 {
		o.MinTextLength = 20
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = 60
	}
	if o.LengthFitWeight == 0 && o.CompletenessWeight == 0 && o.RelevanceWeight == 0 {
		o.LengthFitWeight = 0.3
		o.CompletenessWeight = 0.3
		o.RelevanceWeight = 0.4
	}
	return o
}

// Pipeline applies the fixed step sequence to raw result records.
type Pipeline struct {
	opts        Options
	brand       string
	competitors []string
}

// New creates a cleaning pipeline for one brand and its competitors.
func New(brand string, competitors []string, opts Options) *Pipeline {
	return &Pipeline{
		opts:        opts.withDefaults(),
		brand:       brand,
		competitors: competitors,
	}
}

// recordContext is the per-record working state shared by all steps.
type recordContext struct {
	raw  model.ResultRecord
	out  *model.CleanedRecord
	opts Options

	brand       string
	competitors []string

	// seenHashes maps content hash → first-seen record index; nil when
	// cleaning a single record in isolation.
	seenHashes map[string]int
	index      int
}

// step is one pipeline stage. Steps with unmet preconditions are skipped
// without failing the pipeline.
type step struct {
	name         string
	precondition func(*recordContext) bool
	apply        func(*recordContext) error
}

func (p *Pipeline) steps() []step {
	return []step{
		{"text_extraction", hasRawText, stepExtract},
		{"validation", hasCleanedText, stepValidate},
		{"entity_recognition", hasCleanedText, stepEntities},
		{"deduplication", hasCleanedText, stepDedupe},
		{"feature_preparation", hasCleanedText, stepFeatures},
		{"quality_scoring", always, stepQuality},
	}
}

func hasRawText(ctx *recordContext) bool { return ctx.raw.Text != "" }

func hasCleanedText(ctx *recordContext) bool { return ctx.out.CleanedText != "" }

func always(*recordContext) bool { return true }

// Clean processes a single record in isolation. The same input always
// yields byte-identical output.
func (p *Pipeline) Clean(rec model.ResultRecord) model.CleanedRecord {
	return p.clean(rec, nil, 0)
}

// CleanAll processes a record set in order, sharing the duplicate-detection
// index across records. Repeats are flagged, never discarded.
func (p *Pipeline) CleanAll(records []model.ResultRecord) []model.CleanedRecord {
	seen := make(map[string]int)
	out := make([]model.CleanedRecord, 0, len(records))
	for i, rec := range records {
		out = append(out, p.clean(rec, seen, i))
	}
	return out
}

func (p *Pipeline) clean(rec model.ResultRecord, seen map[string]int, index int) model.CleanedRecord {
	ctx := &recordContext{
		raw: rec,
		out: &model.CleanedRecord{
			Brand:           rec.Brand,
			Question:        rec.Question,
			ProviderID:      rec.ProviderID,
			PipelineVersion: Version,
			StepsApplied:    []string{},
		},
		opts:        p.opts,
		brand:       p.brand,
		competitors: p.competitors,
		seenHashes:  seen,
		index:       index,
	}

	if rec.Failed {
		ctx.out.Warnings = append(ctx.out.Warnings, "source record failed: "+rec.Error)
	}

	for _, s := range p.steps() {
		if !s.precondition(ctx) {
			continue
		}
		if err := s.apply(ctx); err != nil {
			// Step failures downgrade to record-level errors; the pipeline
			// never aborts the run over one record.
			ctx.out.Errors = append(ctx.out.Errors, s.name+": "+err.Error())
			zap.L().Warn("cleaning: step failed",
				zap.String("step", s.name),
				zap.String("provider", rec.ProviderID),
				zap.Error(err),
			)
			continue
		}
		ctx.out.StepsApplied = append(ctx.out.StepsApplied, s.name)
	}

	return *ctx.out
}
