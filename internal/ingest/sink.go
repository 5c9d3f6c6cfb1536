package ingest

import (
	"context"

	"github.com/sells-group/lead-sourcing/internal/model"
)

// ComboSink feeds puller output into the ingestor, fanning each record out
// to every workspace that owns the combo. It is not safe for concurrent use.
type ComboSink struct {
	ing *Ingestor

	Inserted int
	Skipped  int
	Reasons  map[Reason]int
}

// NewComboSink creates a sink with zeroed tallies.
func NewComboSink(ing *Ingestor) *ComboSink {
	return &ComboSink{ing: ing, Reasons: make(map[Reason]int)}
}

// Accept ingests rec once per owning workspace and returns how many leads
// were inserted.
func (s *ComboSink) Accept(ctx context.Context, rec model.ExternalRecord, combo model.TargetingCombo) int {
	inserted := 0
	for _, ws := range combo.WorkspaceIDs {
		out := s.ing.Ingest(ctx, rec, ws, combo)
		if out.Status == OutcomeInserted {
			inserted++
			continue
		}
		s.Skipped++
		s.Reasons[out.Reason]++
	}
	s.Inserted += inserted
	return inserted
}
