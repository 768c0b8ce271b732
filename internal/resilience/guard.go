package resilience

import (
	"context"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/internal/provider"
)

// GuardedAdapter wraps a provider adapter with its circuit breaker. While
// the breaker is open, Generate short-circuits with no network I/O.
type GuardedAdapter struct {
	adapter provider.Adapter
	breaker *CircuitBreaker
}

// Guard pairs an adapter with a breaker.
func Guard(a provider.Adapter, cb *CircuitBreaker) *GuardedAdapter {
	return &GuardedAdapter{adapter: a, breaker: cb}
}

// ID returns the underlying provider ID.
func (g *GuardedAdapter) ID() string { return g.adapter.ID() }

// Open reports whether the breaker currently rejects requests outright.
func (g *GuardedAdapter) Open() bool {
	return g.breaker.State() == CircuitOpen
}

// Generate runs the call through the breaker. Rejected calls return a
// near-zero-latency response marked "breaker open".
func (g *GuardedAdapter) Generate(ctx context.Context, req model.GenerationRequest) model.GenerationResponse {
	if !g.breaker.Allow() {
		return model.ErrorResponse(model.ErrKindUnknown, "breaker open: "+g.adapter.ID())
	}

	resp := g.adapter.Generate(ctx, req)
	g.breaker.Record(resp.ErrorKind)
	return resp
}
