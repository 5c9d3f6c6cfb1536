package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sourcing/internal/ingest"
	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/notify"
	"github.com/sells-group/lead-sourcing/internal/puller"
	"github.com/sells-group/lead-sourcing/internal/router"
	"github.com/sells-group/lead-sourcing/internal/store"
	"github.com/sells-group/lead-sourcing/internal/targeting"
)

// ComboPuller is satisfied by *puller.Puller.
type ComboPuller interface {
	Pull(ctx context.Context, combo model.TargetingCombo, budget puller.Budget, sink puller.Sink) (*puller.ComboResult, puller.Budget, error)
}

// LeadRouter is satisfied by *router.Router.
type LeadRouter interface {
	Route(ctx context.Context, since time.Time) (*router.Result, error)
	Since(runStart time.Time) time.Time
}

// Steps holds the component calls that make up a run. The in-process
// engine and the durable workflow both execute these.
type Steps struct {
	Store         store.LeadStore
	Puller        ComboPuller
	Ingestor      *ingest.Ingestor
	Router        LeadRouter
	Notifier      notify.Notifier
	HasCredential bool
}

// ComboOutcome is what sourcing one combo produced.
type ComboOutcome struct {
	Result   *puller.ComboResult   `json:"result"`
	Budget   puller.Budget         `json:"budget"`
	Inserted int                   `json:"inserted"`
	Skipped  int                   `json:"skipped"`
	Reasons  map[ingest.Reason]int `json:"reasons,omitempty"`
}

// CheckConfig returns a skip reason, or "" when the run can proceed.
func (s *Steps) CheckConfig() string {
	if !s.HasCredential {
		return model.SkipReasonMissingCredential
	}
	return ""
}

// Aggregate loads active preferences and collapses them into combos.
func (s *Steps) Aggregate(ctx context.Context) ([]model.TargetingCombo, error) {
	prefs, err := s.Store.ListActivePreferences(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load preferences")
	}
	return targeting.Aggregate(prefs), nil
}

// SourceCombo pulls one combo into the lead store under budget. On error
// the outcome still carries partial counts and the consumed budget.
func (s *Steps) SourceCombo(ctx context.Context, combo model.TargetingCombo, budget puller.Budget) (*ComboOutcome, error) {
	sink := ingest.NewComboSink(s.Ingestor)
	res, next, err := s.Puller.Pull(ctx, combo, budget, sink)
	out := &ComboOutcome{
		Result:   res,
		Budget:   next,
		Inserted: sink.Inserted,
		Skipped:  sink.Skipped,
		Reasons:  sink.Reasons,
	}
	return out, err
}

// Route assigns leads created since the routing window before runStart.
func (s *Steps) Route(ctx context.Context, runStart time.Time) (*router.Result, error) {
	return s.Router.Route(ctx, s.Router.Since(runStart))
}

// Notify emits the summary.
func (s *Steps) Notify(ctx context.Context, summary *model.RunSummary) error {
	if s.Notifier == nil {
		return nil
	}
	return s.Notifier.Notify(ctx, summary)
}

// Apply folds a combo outcome into the run summary. Rows the provider page
// could not map count as skipped alongside sink rejections.
func (o *ComboOutcome) Apply(summary *model.RunSummary) {
	summary.CombosProcessed++
	summary.Inserted += o.Inserted
	summary.Skipped += o.Skipped
	if o.Result != nil {
		summary.Skipped += o.Result.Unmappable
	}
	summary.BudgetUsed = o.Budget.Used
}

// Metadata is the step record detail for a combo.
func (o *ComboOutcome) Metadata() map[string]any {
	if o == nil || o.Result == nil {
		return nil
	}
	meta := map[string]any{
		"status":      string(o.Result.Status),
		"pages":       o.Result.Pages,
		"records":     o.Result.Records,
		"inserted":    o.Inserted,
		"skipped":     o.Skipped,
		"unmappable":  o.Result.Unmappable,
		"budget_used": o.Budget.Used,
	}
	if o.Result.QueryID != "" {
		meta["query_id"] = o.Result.QueryID
	}
	if o.Result.Preview != nil {
		meta["preview"] = *o.Result.Preview
	}
	return meta
}

// RouteMetadata is the step record detail for a routing pass.
func RouteMetadata(res *router.Result) map[string]any {
	if res == nil {
		return nil
	}
	return map[string]any{
		"leads_scanned":    res.LeadsScanned,
		"assignments":      res.Assignments,
		"primary_assigned": res.PrimaryAssigned,
		"duplicates":       res.Duplicates,
		"quota_skipped":    res.QuotaSkipped,
		"errors":           res.Errors,
	}
}
