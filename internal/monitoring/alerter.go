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

	"github.com/sells-group/lead-sourcing/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate    AlertType = "run_failure_rate"
	AlertMissingCredential AlertType = "missing_provider_credential"
	AlertNoLeadsSourced    AlertType = "no_leads_sourced"
	AlertBudgetSaturated   AlertType = "budget_saturated"
)

const defaultMinFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	if cfg.MinFinishedRuns <= 0 {
		cfg.MinFinishedRuns = defaultMinFinishedRuns
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Finished()
	if a.cfg.FailureRateThreshold > 0 && finished >= a.cfg.MinFinishedRuns && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Every run soft-skips until the key is configured.
	if snap.MissingCredential > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertMissingCredential,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d run(s) skipped without a provider API key in last %dh",
				snap.MissingCredential, snap.LookbackHours,
			),
			Details: map[string]any{
				"skipped_runs": snap.MissingCredential,
			},
			Timestamp: now,
		})
	}

	if snap.RunsDone >= a.cfg.MinFinishedRuns && snap.LeadsInserted == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNoLeadsSourced,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d completed run(s) inserted no leads in last %dh",
				snap.RunsDone, snap.LookbackHours,
			),
			Details: map[string]any{
				"runs_done":    snap.RunsDone,
				"combo_errors": snap.ComboErrors,
			},
			Timestamp: now,
		})
	}

	if snap.BudgetSaturated > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBudgetSaturated,
			Severity: "low",
			Message: fmt.Sprintf(
				"%d run(s) exhausted the per-run record budget in last %dh",
				snap.BudgetSaturated, snap.LookbackHours,
			),
			Details: map[string]any{
				"saturated_runs": snap.BudgetSaturated,
				"leads_inserted": snap.LeadsInserted,
			},
			Timestamp: now,
		})
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
