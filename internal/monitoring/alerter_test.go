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

	"github.com/sells-group/lead-sourcing/internal/config"
)

func alertTypes(alerts []Alert) []AlertType {
	out := make([]AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestAlerter_Evaluate(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.5, MinFinishedRuns: 3}

	tests := []struct {
		name string
		snap MetricsSnapshot
		want []AlertType
	}{
		{
			name: "healthy",
			snap: MetricsSnapshot{RunsTotal: 4, RunsDone: 4, LeadsInserted: 40},
			want: []AlertType{},
		},
		{
			name: "failure rate over threshold",
			snap: MetricsSnapshot{RunsDone: 1, RunsFailed: 3, RunFailRate: 0.75, LeadsInserted: 2},
			want: []AlertType{AlertRunFailureRate},
		},
		{
			name: "too few finished runs",
			snap: MetricsSnapshot{RunsFailed: 2, RunFailRate: 1},
			want: []AlertType{},
		},
		{
			name: "missing credential",
			snap: MetricsSnapshot{RunsSkipped: 2, MissingCredential: 2},
			want: []AlertType{AlertMissingCredential},
		},
		{
			name: "completed runs with no inserts",
			snap: MetricsSnapshot{RunsDone: 3},
			want: []AlertType{AlertNoLeadsSourced},
		},
		{
			name: "budget saturated",
			snap: MetricsSnapshot{RunsDone: 1, LeadsInserted: 5000, BudgetSaturated: 1},
			want: []AlertType{AlertBudgetSaturated},
		},
		{
			name: "multiple",
			snap: MetricsSnapshot{RunsDone: 0, RunsFailed: 4, RunFailRate: 1, MissingCredential: 1},
			want: []AlertType{AlertRunFailureRate, AlertMissingCredential},
		},
	}

	a := NewAlerter(cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := tt.snap
			assert.Equal(t, tt.want, alertTypes(a.Evaluate(&snap)))
		})
	}
}

func TestAlerter_Evaluate_ZeroThresholdDisablesFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	alerts := a.Evaluate(&MetricsSnapshot{RunsFailed: 10, RunFailRate: 1, LeadsInserted: 1})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_DefaultMinimumRuns(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1})

	alerts := a.Evaluate(&MetricsSnapshot{RunsDone: 0, RunsFailed: 2, RunFailRate: 1})
	assert.Empty(t, alerts)

	alerts = a.Evaluate(&MetricsSnapshot{RunsDone: 0, RunsFailed: 3, RunFailRate: 1})
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, 3, alerts[0].Details["finished"])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertMissingCredential, Severity: "high", Message: "test alert 2"},
	}

	assert.Equal(t, 2, a.SendAlerts(context.Background(), alerts))
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
