package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/pkg/anthropic"
)

// AnthropicAdapter wraps the Anthropic SDK client.
type AnthropicAdapter struct {
	base
	client           anthropic.Client
	defaultModel     string
	defaultMaxTokens int64
}

// NewAnthropic creates an Anthropic adapter. defaultMaxTokens fills requests
// that carry no token budget of their own; zero falls back to 1024.
func NewAnthropic(id string, client anthropic.Client, defaultModel string, defaultMaxTokens int, limiter *rate.Limiter) *AnthropicAdapter {
	return &AnthropicAdapter{
		base:             base{id: id, limiter: limiter},
		client:           client,
		defaultModel:     defaultModel,
		defaultMaxTokens: int64(defaultMaxTokens),
	}
}

func (a *AnthropicAdapter) ID() string { return a.id }

func (a *AnthropicAdapter) Generate(ctx context.Context, req model.GenerationRequest) model.GenerationResponse {
	start := time.Now()

	if err := a.wait(ctx); err != nil {
		return a.finish(start, req, model.ErrorResponse(model.ErrKindTimeout, "rate limiter wait: "+err.Error()))
	}

	cctx, cancel := callCtx(ctx, req)
	defer cancel()

	msgReq := anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: req.Temperature,
		Messages: []anthropic.Message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if msgReq.Model == "" {
		msgReq.Model = a.defaultModel
	}
	if msgReq.MaxTokens == 0 {
		msgReq.MaxTokens = a.defaultMaxTokens
	}
	if msgReq.MaxTokens == 0 {
		msgReq.MaxTokens = 1024
	}

	resp, err := a.client.CreateMessage(cctx, msgReq)
	if err != nil {
		return a.finish(start, req, model.ErrorResponse(anthropicKind(cctx, err), err.Error()))
	}

	text := resp.Text()
	if text == "" {
		return a.finish(start, req, model.ErrorResponse(model.ErrKindInvalidResponse, "no text blocks in message"))
	}

	return a.finish(start, req, model.GenerationResponse{
		Content:      text,
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	})
}

// anthropicKind classifies an SDK error via its HTTP status, falling back to
// transport classification when no API response was received.
func anthropicKind(ctx context.Context, err error) model.ErrorKind {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return anthropicKindForStatus(apiErr.StatusCode, err.Error())
	}
	return transportKind(ctx, err)
}

// anthropicKindForStatus is the fixed status→kind table for Anthropic.
func anthropicKindForStatus(status int, msg string) model.ErrorKind {
	switch status {
	case 401, 403:
		return model.ErrKindAuth
	case 408, 504:
		return model.ErrKindTimeout
	case 429:
		if strings.Contains(strings.ToLower(msg), "credit") {
			return model.ErrKindQuotaExhausted
		}
		return model.ErrKindRateLimited
	case 400, 422:
		if strings.Contains(strings.ToLower(msg), "safety") {
			return model.ErrKindContentFiltered
		}
		return model.ErrKindInvalidResponse
	case 529:
		// Anthropic "overloaded" responses behave like transient outages.
		return model.ErrKindConnectionFailure
	}
	if status >= 500 {
		return model.ErrKindConnectionFailure
	}
	return model.ErrKindUnknown
}
