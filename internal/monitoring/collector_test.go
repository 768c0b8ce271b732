package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/internal/resilience"
)

func success(latency int64) model.GenerationResponse {
	return model.GenerationResponse{Content: "ok", LatencyMs: latency}
}

func failure(kind model.ErrorKind, latency int64) model.GenerationResponse {
	resp := model.ErrorResponse(kind, string(kind))
	resp.LatencyMs = latency
	return resp
}

func TestCollectorObserveAndSnapshot(t *testing.T) {
	c := NewCollector(nil)

	c.Observe("openai", success(100))
	c.Observe("openai", success(300))
	c.Observe("openai", failure(model.ErrKindTimeout, 50))
	c.Observe("perplexity", failure(model.ErrKindQuotaExhausted, 10))

	snap := c.Snapshot()
	require.Len(t, snap.Providers, 2)

	oa := snap.Providers["openai"]
	assert.Equal(t, 3, oa.Calls)
	assert.Equal(t, 2, oa.Successes)
	assert.Equal(t, map[string]int{"timeout": 1}, oa.Failures)
	assert.Equal(t, int64(50), oa.LatencyMinMs)
	assert.Equal(t, int64(300), oa.LatencyMaxMs)
	assert.Equal(t, int64(150), oa.LatencyAvgMs)
	assert.Empty(t, oa.BreakerState, "no breakers wired")

	px := snap.Providers["perplexity"]
	assert.Equal(t, 1, px.Calls)
	assert.Zero(t, px.Successes)
	assert.Equal(t, 1, px.Failures["quota_exhausted"])

	assert.WithinDuration(t, time.Now().UTC(), snap.CollectedAt, time.Minute)
}

func TestCollectorSnapshotIncludesBreakerState(t *testing.T) {
	breakers := resilience.NewProviderBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1})
	breakers.Get("openai").Record(model.ErrKindTimeout)

	c := NewCollector(breakers)
	c.Observe("openai", failure(model.ErrKindTimeout, 1))

	snap := c.Snapshot()
	assert.Equal(t, "open", snap.Providers["openai"].BreakerState)
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector(nil)
	c.Observe("openai", success(5))
	require.Len(t, c.Snapshot().Providers, 1)

	c.Reset()
	assert.Empty(t, c.Snapshot().Providers)
}
