// Package provider translates generic generation requests into provider
// wire formats and classifies every upstream failure into a fixed error
// kind, so provider-specific shapes never leak past this boundary.
package provider

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/brandscan/internal/model"
)

// Adapter is the uniform provider interface. Generate never returns a Go
// error for expected upstream failures; those are reported through the
// response's ErrorKind.
type Adapter interface {
	// ID returns the provider identifier used in priority lists and logs.
	ID() string
	Generate(ctx context.Context, req model.GenerationRequest) model.GenerationResponse
}

// base carries the pieces every adapter shares: identity, a per-provider
// rate limiter, and call instrumentation.
type base struct {
	id      string
	limiter *rate.Limiter
}

// wait blocks on the provider's rate limiter. A nil limiter passes through.
func (b *base) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// callCtx applies the request timeout, if any.
func callCtx(ctx context.Context, req model.GenerationRequest) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		return context.WithTimeout(ctx, req.Timeout)
	}
	return ctx, func() {}
}

// logCall emits the one structured log entry per provider call.
func (b *base) logCall(req model.GenerationRequest, resp *model.GenerationResponse) {
	zap.L().Info("provider call",
		zap.String("provider", b.id),
		zap.String("request_id", req.RequestID),
		zap.Int64("latency_ms", resp.LatencyMs),
		zap.Bool("success", !resp.Failed()),
		zap.String("error_kind", string(resp.ErrorKind)),
	)
}

// transportKind classifies a transport-level error (no HTTP status reached).
func transportKind(ctx context.Context, err error) model.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return model.ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrKindTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset", "connection refused", "broken pipe",
		"no such host", "tls handshake", "i/o timeout", "eof",
	} {
		if strings.Contains(msg, p) {
			return model.ErrKindConnectionFailure
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return model.ErrKindTimeout
	}
	return model.ErrKindConnectionFailure
}

// finish stamps latency and logs the call before handing the response back.
func (b *base) finish(start time.Time, req model.GenerationRequest, resp model.GenerationResponse) model.GenerationResponse {
	resp.LatencyMs = time.Since(start).Milliseconds()
	b.logCall(req, &resp)
	return resp
}
