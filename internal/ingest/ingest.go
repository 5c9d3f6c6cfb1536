// Package ingest turns provider records into workspace leads, skipping
// anything without an email or already present in the workspace.
package ingest

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/store"
)

// Status is the result of ingesting one record into one workspace.
type Status string

const (
	OutcomeInserted Status = "inserted"
	OutcomeSkipped  Status = "skipped"
)

// Reason explains a skipped outcome.
type Reason string

const (
	ReasonNoEmail     Reason = "no_email"
	ReasonDuplicate   Reason = "duplicate"
	ReasonLookupError Reason = "lookup_error"
	ReasonInsertError Reason = "insert_error"
)

// Outcome describes what happened to one record.
type Outcome struct {
	Status Status `json:"status"`
	Reason Reason `json:"reason,omitempty"`
	LeadID string `json:"lead_id,omitempty"`
}

func skipped(r Reason) Outcome {
	return Outcome{Status: OutcomeSkipped, Reason: r}
}

// Ingestor deduplicates and inserts leads.
type Ingestor struct {
	store store.LeadStore
	log   *zap.Logger
}

// New creates an Ingestor backed by st.
func New(st store.LeadStore) *Ingestor {
	return &Ingestor{
		store: st,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// Ingest stores rec as a new lead in workspaceID. Store failures are logged
// and reported as skips so one bad record never stops a combo.
func (i *Ingestor) Ingest(ctx context.Context, rec model.ExternalRecord, workspaceID string, combo model.TargetingCombo) Outcome {
	email := rec.ResolveEmail()
	if email == "" {
		return skipped(ReasonNoEmail)
	}

	existing, err := i.store.FindLeadByEmail(ctx, workspaceID, email)
	if err != nil {
		i.log.Warn("lead lookup failed",
			zap.String("workspace_id", workspaceID),
			zap.String("combo", combo.Key),
			zap.Error(err),
		)
		return skipped(ReasonLookupError)
	}
	if existing != nil {
		return skipped(ReasonDuplicate)
	}

	lead := BuildLead(rec, email, workspaceID, combo)
	inserted, err := i.store.InsertLead(ctx, lead)
	if err != nil {
		i.log.Warn("lead insert failed",
			zap.String("workspace_id", workspaceID),
			zap.String("combo", combo.Key),
			zap.Error(err),
		)
		return skipped(ReasonInsertError)
	}
	if !inserted {
		// Lost a race with a concurrent ingest of the same address.
		return skipped(ReasonDuplicate)
	}
	return Outcome{Status: OutcomeInserted, LeadID: lead.ID}
}

// BuildLead maps a provider record onto a new lead. email must already be
// normalized.
func BuildLead(rec model.ExternalRecord, email, workspaceID string, combo model.TargetingCombo) *model.Lead {
	first, last := splitName(rec)

	phone := strings.TrimSpace(rec.MobilePhone)
	if phone == "" {
		phone = strings.TrimSpace(rec.Phone)
	}

	industry := strings.TrimSpace(rec.Industry)
	if industry == "" && len(combo.Industries) == 1 {
		industry = combo.Industries[0]
	}

	return &model.Lead{
		WorkspaceID:   workspaceID,
		Email:         email,
		FirstName:     first,
		LastName:      last,
		Phone:         phone,
		Company:       strings.TrimSpace(rec.Company),
		CompanyDomain: strings.ToLower(strings.TrimSpace(rec.CompanyDomain)),
		JobTitle:      strings.TrimSpace(rec.JobTitle),
		Industry:      industry,
		City:          strings.TrimSpace(rec.City),
		State:         strings.TrimSpace(rec.State),
		PostalCode:    strings.TrimSpace(rec.PostalCode),
		Country:       strings.TrimSpace(rec.Country),
		LinkedInURL:   strings.TrimSpace(rec.LinkedInURL),
		Source:        model.SourceSegmentPull,
		SourceCombo:   combo.Key,
		Score:         model.DefaultLeadScore,
		Status:        model.LeadStatusNew,
	}
}

func splitName(rec model.ExternalRecord) (string, string) {
	first := strings.TrimSpace(rec.FirstName)
	last := strings.TrimSpace(rec.LastName)
	if first == "" && last == "" {
		parts := strings.Fields(rec.FullName)
		switch len(parts) {
		case 0:
		case 1:
			first = parts[0]
		default:
			first = parts[0]
			last = strings.Join(parts[1:], " ")
		}
	}
	return normalizeName(first), normalizeName(last)
}

// normalizeName title-cases names that arrive all upper or all lower case
// and leaves mixed case ("McDonald") untouched.
func normalizeName(s string) string {
	if s == "" {
		return s
	}
	if s != strings.ToUpper(s) && s != strings.ToLower(s) {
		return s
	}
	return cases.Title(language.Und).String(s)
}
