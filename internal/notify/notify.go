// Package notify delivers the run summary once a sourcing run ends.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/model"
)

// Notifier sends one run summary.
type Notifier interface {
	Notify(ctx context.Context, summary *model.RunSummary) error
}

// Webhook posts the summary as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. A zero timeout defaults to 10s.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify posts the summary.
func (w *Webhook) Notify(ctx context.Context, summary *model.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "notify: marshal summary")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// CompletedPublisher is satisfied by *events.Publisher.
type CompletedPublisher interface {
	PublishCompleted(ctx context.Context, summary *model.RunSummary) error
}

// Event publishes the summary as a completion event.
type Event struct {
	pub CompletedPublisher
}

// NewEvent creates an event notifier.
func NewEvent(pub CompletedPublisher) *Event {
	return &Event{pub: pub}
}

// Notify publishes the summary.
func (e *Event) Notify(ctx context.Context, summary *model.RunSummary) error {
	return e.pub.PublishCompleted(ctx, summary)
}

// Log writes the summary to the global logger.
type Log struct{}

// Notify logs the summary.
func (Log) Notify(_ context.Context, s *model.RunSummary) error {
	zap.L().Info("run summary",
		zap.String("run_id", s.RunID),
		zap.String("trigger", string(s.Trigger)),
		zap.String("status", string(s.Status)),
		zap.String("reason", s.Reason),
		zap.Int("combos_total", s.CombosTotal),
		zap.Int("combos_processed", s.CombosProcessed),
		zap.Int("inserted", s.Inserted),
		zap.Int("skipped", s.Skipped),
		zap.Int("assignments", s.Assignments),
		zap.Int("primary_assigned", s.PrimaryAssigned),
		zap.Int("budget_used", s.BudgetUsed),
		zap.Int("budget_cap", s.BudgetCap),
		zap.Strings("errors", s.Errors),
	)
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

// Notify calls each notifier even when an earlier one fails.
func (m Multi) Notify(ctx context.Context, summary *model.RunSummary) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
