package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/pkg/openaichat"
)

// OpenAIAdapter serves any OpenAI-compatible chat endpoint. The provider ID
// distinguishes concrete deployments (openai, deepseek, moonshot, ...).
type OpenAIAdapter struct {
	base
	client       openaichat.Client
	defaultModel string
}

// NewOpenAI creates an adapter over an OpenAI-compatible client.
func NewOpenAI(id string, client openaichat.Client, defaultModel string, limiter *rate.Limiter) *OpenAIAdapter {
	return &OpenAIAdapter{
		base:         base{id: id, limiter: limiter},
		client:       client,
		defaultModel: defaultModel,
	}
}

func (a *OpenAIAdapter) ID() string { return a.id }

func (a *OpenAIAdapter) Generate(ctx context.Context, req model.GenerationRequest) model.GenerationResponse {
	start := time.Now()

	if err := a.wait(ctx); err != nil {
		return a.finish(start, req, model.ErrorResponse(model.ErrKindTimeout, "rate limiter wait: "+err.Error()))
	}

	cctx, cancel := callCtx(ctx, req)
	defer cancel()

	chatReq := openaichat.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openaichat.Message{
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
		var apiErr *openaichat.APIError
		if errors.As(err, &apiErr) {
			kind := openAIKindForStatus(apiErr.StatusCode, apiErr.Body)
			return a.finish(start, req, model.ErrorResponse(kind, apiErr.Error()))
		}
		return a.finish(start, req, model.ErrorResponse(transportKind(cctx, err), err.Error()))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return a.finish(start, req, model.ErrorResponse(model.ErrKindInvalidResponse, "empty choices in completion"))
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return a.finish(start, req, model.ErrorResponse(model.ErrKindContentFiltered, "completion stopped by content filter"))
	}

	raw, _ := json.Marshal(resp)
	return a.finish(start, req, model.GenerationResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Raw:          raw,
		Usage: model.TokenUsage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	})
}

// openAIKindForStatus is the fixed status→kind table for OpenAI-compatible
// endpoints. 429 is ambiguous there: quota exhaustion shares the status with
// rate limiting and is told apart by the error body.
func openAIKindForStatus(status int, body string) model.ErrorKind {
	switch status {
	case 401, 403:
		return model.ErrKindAuth
	case 402:
		return model.ErrKindQuotaExhausted
	case 408, 504:
		return model.ErrKindTimeout
	case 429:
		lower := strings.ToLower(body)
		if strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "quota") || strings.Contains(lower, "billing") {
			return model.ErrKindQuotaExhausted
		}
		return model.ErrKindRateLimited
	case 400, 422:
		lower := strings.ToLower(body)
		if strings.Contains(lower, "content_filter") || strings.Contains(lower, "content_policy") {
			return model.ErrKindContentFiltered
		}
		return model.ErrKindInvalidResponse
	}
	if status >= 500 {
		return model.ErrKindConnectionFailure
	}
	return model.ErrKindUnknown
}
