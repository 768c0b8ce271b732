package model

import "time"

// ResultRecord is the terminal outcome of one dispatch task. Created once
// per task and immutable thereafter.
type ResultRecord struct {
	Brand      string     `json:"brand"`
	Question   string     `json:"question"`
	ProviderID string     `json:"provider_id"`
	Text       string     `json:"text,omitempty"`
	Failed     bool       `json:"failed"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	LatencyMs  int64      `json:"latency_ms"`
	Usage      TokenUsage `json:"usage"`
	Timestamp  time.Time  `json:"timestamp"`
}

// EntityMention records one occurrence of a tracked brand in cleaned text.
type EntityMention struct {
	Name       string `json:"name"`
	Offset     int    `json:"offset"`
	Length     int    `json:"length"`
	Context    string `json:"context"`
	Competitor bool   `json:"competitor"`
}

// GeoFeatures are lightweight structural text features prepared for
// downstream exposure analysis.
type GeoFeatures struct {
	SentenceCount  int    `json:"sentence_count"`
	WordCount      int    `json:"word_count"`
	Language       string `json:"language"`
	HasURL         bool   `json:"has_url"`
	HasNumbers     bool   `json:"has_numbers"`
	BrandPositions []int  `json:"brand_positions,omitempty"`
}

// CleanedRecord is derived 1:1 from a ResultRecord by the cleaning pipeline.
// Immutable once produced; PipelineVersion identifies the step set that
// produced it.
type CleanedRecord struct {
	Brand           string          `json:"brand"`
	Question        string          `json:"question"`
	ProviderID      string          `json:"provider_id"`
	CleanedText     string          `json:"cleaned_text"`
	Truncated       bool            `json:"truncated,omitempty"`
	Duplicate       bool            `json:"duplicate,omitempty"`
	ContentHash     string          `json:"content_hash,omitempty"`
	Entities        []EntityMention `json:"entities,omitempty"`
	GeoFeatures     GeoFeatures     `json:"geo_features"`
	QualityScore    float64         `json:"quality_score"`
	Warnings        []string        `json:"warnings,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
	StepsApplied    []string        `json:"steps_applied"`
	PipelineVersion string          `json:"pipeline_version"`
}

// MentionsOf counts mentions of the named brand.
func (c *CleanedRecord) MentionsOf(name string) int {
	n := 0
	for _, e := range c.Entities {
		if e.Name == name {
			n++
		}
	}
	return n
}
