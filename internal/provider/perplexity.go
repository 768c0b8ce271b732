package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/pkg/perplexity"
)

// PerplexityAdapter wraps the Perplexity chat client.
type PerplexityAdapter struct {
	base
	client       perplexity.Client
	defaultModel string
}

// NewPerplexity creates a Perplexity adapter.
func NewPerplexity(id string, client perplexity.Client, defaultModel string, limiter *rate.Limiter) *PerplexityAdapter {
	return &PerplexityAdapter{
		base:         base{id: id, limiter: limiter},
		client:       client,
		defaultModel: defaultModel,
	}
}

func (a *PerplexityAdapter) ID() string { return a.id }

func (a *PerplexityAdapter) Generate(ctx context.Context, req model.GenerationRequest) model.GenerationResponse {
	start := time.Now()

	if err := a.wait(ctx); err != nil {
		return a.finish(start, req, model.ErrorResponse(model.ErrKindTimeout, "rate limiter wait: "+err.Error()))
	}

	cctx, cancel := callCtx(ctx, req)
	defer cancel()

	chatReq := perplexity.ChatCompletionRequest{
		Model: req.Model,
		Messages: []perplexity.Message{
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Temperature,
	}
	if chatReq.Model == "" {
		chatReq.Model = a.defaultModel
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = &req.MaxTokens
	}

	resp, err := a.client.ChatCompletion(cctx, chatReq)
	if err != nil {
		var apiErr *perplexity.APIError
		if errors.As(err, &apiErr) {
			return a.finish(start, req, model.ErrorResponse(perplexityKindForStatus(apiErr.StatusCode), apiErr.Error()))
		}
		return a.finish(start, req, model.ErrorResponse(transportKind(cctx, err), err.Error()))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return a.finish(start, req, model.ErrorResponse(model.ErrKindInvalidResponse, "empty choices in completion"))
	}

	raw, _ := json.Marshal(resp)
	return a.finish(start, req, model.GenerationResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
		Raw:          raw,
		Usage: model.TokenUsage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	})
}

// perplexityKindForStatus is the fixed status→kind table for Perplexity.
func perplexityKindForStatus(status int) model.ErrorKind {
	switch status {
	case 401, 403:
		return model.ErrKindAuth
	case 402:
		return model.ErrKindQuotaExhausted
	case 408, 504:
		return model.ErrKindTimeout
	case 429:
		return model.ErrKindRateLimited
	case 400, 422:
		return model.ErrKindInvalidResponse
	}
	if status >= 500 {
		return model.ErrKindConnectionFailure
	}
	return model.ErrKindUnknown
}
