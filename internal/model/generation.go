// Package model defines the shared data types for the diagnosis engine.
package model

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies an upstream provider failure. Adapters map their
// provider's error surface onto this fixed set at the boundary, so
// provider-specific shapes never leak past the adapter.
type ErrorKind string

const (
	ErrKindNone              ErrorKind = ""
	ErrKindAuth              ErrorKind = "auth"
	ErrKindRateLimited       ErrorKind = "rate_limited"
	ErrKindQuotaExhausted    ErrorKind = "quota_exhausted"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindConnectionFailure ErrorKind = "connection_failure"
	ErrKindInvalidResponse   ErrorKind = "invalid_response"
	ErrKindContentFiltered   ErrorKind = "content_filtered"
	ErrKindUnknown           ErrorKind = "unknown"
)

// Transient reports whether the kind is safe to retry against the same
// provider. Quota exhaustion is terminal for the run, not transient.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrKindTimeout, ErrKindConnectionFailure, ErrKindRateLimited:
		return true
	default:
		return false
	}
}

// NonRetryable reports whether the kind must surface immediately with no
// retry and no failover advance.
func (k ErrorKind) NonRetryable() bool {
	return k == ErrKindAuth || k == ErrKindContentFiltered
}

// GenerationRequest is a provider-agnostic text generation request.
type GenerationRequest struct {
	Prompt      string        `json:"prompt"`
	Model       string        `json:"model"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
	RequestID   string        `json:"request_id"`
}

// TokenUsage tracks token consumption for a single call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// GenerationResponse is the standardized result of one provider call.
// A terminal response has exactly one of Content or ErrorKind populated.
type GenerationResponse struct {
	Content      string          `json:"content,omitempty"`
	Model        string          `json:"model,omitempty"`
	LatencyMs    int64           `json:"latency_ms"`
	Usage        TokenUsage      `json:"usage"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Failed reports whether the response carries an error instead of content.
func (r *GenerationResponse) Failed() bool {
	return r.ErrorKind != ErrKindNone
}

// ErrorResponse builds a failed GenerationResponse.
func ErrorResponse(kind ErrorKind, msg string) GenerationResponse {
	return GenerationResponse{ErrorKind: kind, ErrorMessage: msg}
}
