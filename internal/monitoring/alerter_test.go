package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandscan/internal/config"
	"github.com/sells-group/brandscan/internal/model"
)

func snapshotWith(stats map[string]model.ProviderCallStats) *MetricsSnapshot {
	return &MetricsSnapshot{Providers: stats}
}

func TestEvaluateFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, MinCallsForAlert: 5})

	alerts := a.Evaluate(snapshotWith(map[string]model.ProviderCallStats{
		"openai": {Calls: 10, Successes: 2},
	}))

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertProviderFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "openai")
	assert.Equal(t, "openai", alerts[0].Details["provider"])
}

func TestEvaluateBelowMinCalls(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, MinCallsForAlert: 5})

	alerts := a.Evaluate(snapshotWith(map[string]model.ProviderCallStats{
		"openai": {Calls: 4, Successes: 0},
	}))

	assert.Empty(t, alerts, "too few calls for a failure-rate signal")
}

func TestEvaluateBreakerOpen(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.9})

	alerts := a.Evaluate(snapshotWith(map[string]model.ProviderCallStats{
		"perplexity": {Calls: 1, Successes: 1, BreakerState: "open"},
	}))

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBreakerOpen, alerts[0].Type)
}

func TestEvaluateQuotaExhausted(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.9})

	alerts := a.Evaluate(snapshotWith(map[string]model.ProviderCallStats{
		"anthropic": {Calls: 2, Successes: 1, Failures: map[string]int{"quota_exhausted": 1}},
	}))

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQuotaExhausted, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestEvaluateHealthySnapshot(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, MinCallsForAlert: 5})

	alerts := a.Evaluate(snapshotWith(map[string]model.ProviderCallStats{
		"openai": {Calls: 20, Successes: 19, BreakerState: "closed"},
	}))

	assert.Empty(t, alerts)
}

func TestSendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertBreakerOpen, Severity: "high", Message: "breaker open"},
		{Type: AlertQuotaExhausted, Severity: "medium", Message: "quota gone"},
	})

	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestSendAlertsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertBreakerOpen}})

	assert.Zero(t, sent)
}

func TestSendAlertsNoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertBreakerOpen}}))
}
