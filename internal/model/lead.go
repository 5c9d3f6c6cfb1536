package model

import (
	"strings"
	"time"
)

// SourceSegmentPull tags leads created by the scheduled sourcing engine.
const SourceSegmentPull = "segment_pull"

// Lead statuses and defaults.
const (
	LeadStatusNew    = "new"
	DefaultLeadScore = 0
)

// AssignmentStatusActive is the status of a freshly routed assignment.
const AssignmentStatusActive = "active"

// ExternalRecord is a candidate contact returned by the audience provider,
// already mapped into a strict shape at the client boundary.
type ExternalRecord struct {
	ProviderID     string   `json:"provider_id,omitempty"`
	Email          string   `json:"email,omitempty"`
	PersonalEmails []string `json:"personal_emails,omitempty"`
	FirstName      string   `json:"first_name,omitempty"`
	LastName       string   `json:"last_name,omitempty"`
	FullName       string   `json:"full_name,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	MobilePhone    string   `json:"mobile_phone,omitempty"`
	Company        string   `json:"company,omitempty"`
	CompanyDomain  string   `json:"company_domain,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	JobTitle       string   `json:"job_title,omitempty"`
	City           string   `json:"city,omitempty"`
	State          string   `json:"state,omitempty"`
	PostalCode     string   `json:"postal_code,omitempty"`
	Country        string   `json:"country,omitempty"`
	LinkedInURL    string   `json:"linkedin_url,omitempty"`
}

// ResolveEmail returns the normalized primary email, falling back to the
// first usable personal email. Empty means the record has no dedup key.
func (r ExternalRecord) ResolveEmail() string {
	if e := NormalizeEmail(r.Email); e != "" {
		return e
	}
	for _, pe := range r.PersonalEmails {
		if e := NormalizeEmail(pe); e != "" {
			return e
		}
	}
	return ""
}

// NormalizeEmail trims and lower-cases an address. Values without an "@"
// are not usable and normalize to "".
func NormalizeEmail(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(e, "@") || strings.HasPrefix(e, "@") || strings.HasSuffix(e, "@") {
		return ""
	}
	return e
}

// Lead is a persisted, workspace-scoped contact.
type Lead struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Company        string    `json:"company,omitempty"`
	CompanyDomain  string    `json:"company_domain,omitempty"`
	JobTitle       string    `json:"job_title,omitempty"`
	Industry       string    `json:"industry,omitempty"`
	City           string    `json:"city,omitempty"`
	State          string    `json:"state,omitempty"`
	PostalCode     string    `json:"postal_code,omitempty"`
	Country        string    `json:"country,omitempty"`
	LinkedInURL    string    `json:"linkedin_url,omitempty"`
	Source         string    `json:"source"`
	SourceCombo    string    `json:"source_combo,omitempty"`
	Score          int       `json:"score"`
	Status         string    `json:"status"`
	AssignedUserID *string   `json:"assigned_user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LeadAssignment links a lead to an interested user.
type LeadAssignment struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspace_id"`
	LeadID          string    `json:"lead_id"`
	UserID          string    `json:"user_id"`
	PreferenceID    string    `json:"preference_id,omitempty"`
	MatchedIndustry *string   `json:"matched_industry,omitempty"`
	MatchedGeo      *string   `json:"matched_geo,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}
