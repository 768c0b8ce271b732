package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brandscan/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertProviderFailureRate AlertType = "provider_failure_rate"
	AlertBreakerOpen         AlertType = "breaker_open"
	AlertQuotaExhausted      AlertType = "quota_exhausted"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	minCalls := a.cfg.MinCallsForAlert
	if minCalls <= 0 {
		minCalls = 5
	}

	for id, stats := range snap.Providers {
		failed := stats.Calls - stats.Successes

		if stats.Calls >= minCalls {
			rate := float64(failed) / float64(stats.Calls)
			if rate > a.cfg.FailureRateThreshold {
				alerts = append(alerts, Alert{
					Type:     AlertProviderFailureRate,
					Severity: "high",
					Message: fmt.Sprintf(
						"Provider %s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d calls)",
						id, rate*100, a.cfg.FailureRateThreshold*100, failed, stats.Calls,
					),
					Details: map[string]any{
						"provider":     id,
						"failure_rate": rate,
						"threshold":    a.cfg.FailureRateThreshold,
						"failed":       failed,
						"calls":        stats.Calls,
					},
					Timestamp: now,
				})
			}
		}

		if stats.BreakerState == "open" {
			alerts = append(alerts, Alert{
				Type:     AlertBreakerOpen,
				Severity: "high",
				Message:  fmt.Sprintf("Provider %s circuit breaker is open", id),
				Details: map[string]any{
					"provider": id,
				},
				Timestamp: now,
			})
		}

		if n := stats.Failures["quota_exhausted"]; n > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertQuotaExhausted,
				Severity: "medium",
				Message:  fmt.Sprintf("Provider %s reported quota exhaustion %d time(s)", id, n),
				Details: map[string]any{
					"provider": id,
					"count":    n,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
