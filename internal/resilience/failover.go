package resilience

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/internal/provider"
)

// ExhaustedSet tracks providers whose quota ran out during a run. Once a
// provider is exhausted it is skipped for the rest of the run.
type ExhaustedSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

// NewExhaustedSet creates an empty exhausted set.
func NewExhaustedSet() *ExhaustedSet {
	return &ExhaustedSet{ids: make(map[string]bool)}
}

// Add marks the provider exhausted.
func (s *ExhaustedSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = true
}

// Has reports whether the provider is exhausted.
func (s *ExhaustedSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id]
}

// Attempt records one provider's contribution to a failover walk.
type Attempt struct {
	ProviderID string          `json:"provider_id"`
	Calls      int             `json:"calls"`
	Kind       model.ErrorKind `json:"kind"`
}

// Controller walks a priority-ordered provider list for one model family,
// retrying transient failures against the same provider before advancing.
// Retry policy lives here and only here; call sites never loop themselves.
type Controller struct {
	registry *provider.Registry
	breakers *ProviderBreakers
	retry    RetryConfig
}

// NewController creates a failover controller.
func NewController(registry *provider.Registry, breakers *ProviderBreakers, retry RetryConfig) *Controller {
	return &Controller{
		registry: registry,
		breakers: breakers,
		retry:    retry.withDefaults(),
	}
}

// Execute walks candidates in priority order and returns the first terminal
// response plus the ID of the provider that produced it, and the attempts
// made. The returned response is always terminal: either a success or a
// failure with a non-empty reason.
func (c *Controller) Execute(ctx context.Context, candidates []string, exhausted *ExhaustedSet, req model.GenerationRequest) (model.GenerationResponse, string, []Attempt) {
	var attempts []Attempt

	for _, id := range candidates {
		if exhausted.Has(id) {
			zap.L().Debug("failover: skipping exhausted provider",
				zap.String("provider", id),
				zap.String("request_id", req.RequestID),
			)
			continue
		}

		adapter := c.registry.Get(id)
		if adapter == nil {
			zap.L().Warn("failover: unknown provider in priority list",
				zap.String("provider", id),
			)
			continue
		}

		guarded := Guard(adapter, c.breakers.Get(id))
		if guarded.Open() {
			zap.L().Debug("failover: skipping provider with open breaker",
				zap.String("provider", id),
				zap.String("request_id", req.RequestID),
			)
			continue
		}

		resp, calls := c.callWithRetry(ctx, guarded, req)
		attempts = append(attempts, Attempt{ProviderID: id, Calls: calls, Kind: resp.ErrorKind})

		switch {
		case !resp.Failed():
			return resp, id, attempts

		case resp.ErrorKind == model.ErrKindQuotaExhausted:
			// Mark exhausted and advance exactly one position.
			exhausted.Add(id)
			zap.L().Warn("failover: provider quota exhausted",
				zap.String("provider", id),
				zap.String("request_id", req.RequestID),
			)

		case resp.ErrorKind.NonRetryable():
			// Auth and content-filter failures surface immediately.
			return resp, id, attempts

		default:
			// Transient retries already happened in callWithRetry; advance.
			zap.L().Warn("failover: provider failed, advancing",
				zap.String("provider", id),
				zap.String("error_kind", string(resp.ErrorKind)),
				zap.String("request_id", req.RequestID),
			)
		}

		if ctx.Err() != nil {
			break
		}
	}

	names := make([]string, 0, len(attempts))
	for _, a := range attempts {
		names = append(names, a.ProviderID)
	}
	msg := "all candidate providers failed"
	if len(names) > 0 {
		msg += ": attempted " + strings.Join(names, ", ")
	} else {
		msg = "no callable providers: all candidates exhausted, open, or unregistered"
	}
	return model.ErrorResponse(model.ErrKindUnknown, msg), "", attempts
}

// callWithRetry calls one provider, retrying transient failures with
// backoff and jitter. Returns the last response and the number of calls
// made.
func (c *Controller) callWithRetry(ctx context.Context, guarded *GuardedAdapter, req model.GenerationRequest) (model.GenerationResponse, int) {
	calls := 0
	var resp model.GenerationResponse

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		resp = guarded.Generate(ctx, req)
		calls++

		if !resp.Failed() || !resp.ErrorKind.Transient() {
			return resp, calls
		}
		if ctx.Err() != nil {
			return resp, calls
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		delay := c.retry.backoff(attempt)
		zap.L().Debug("failover: retrying provider",
			zap.String("provider", guarded.ID()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.String("error_kind", string(resp.ErrorKind)),
		)
		sleep(ctx, delay)
	}

	return resp, calls
}
