package model

import (
	"sort"
	"strings"
	"time"
)

// Geography is the location filter of a targeting preference.
type Geography struct {
	States      []string `json:"states,omitempty"`
	Cities      []string `json:"cities,omitempty"`
	PostalCodes []string `json:"postal_codes,omitempty"`
}

// IsEmpty reports whether no location value is configured.
func (g Geography) IsEmpty() bool {
	return len(g.Values()) == 0
}

// Values flattens states, cities and postal codes into one sorted,
// de-duplicated, lower-cased set.
func (g Geography) Values() []string {
	all := make([]string, 0, len(g.States)+len(g.Cities)+len(g.PostalCodes))
	all = append(all, g.States...)
	all = append(all, g.Cities...)
	all = append(all, g.PostalCodes...)
	return NormalizeSet(all)
}

// TargetingPreference is one user's lead-sourcing rules inside a workspace.
// Counts are reset by an external scheduler.
type TargetingPreference struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	WorkspaceID  string    `json:"workspace_id"`
	Industries   []string  `json:"industries"`
	Geography    Geography `json:"geography"`
	DailyCap     int       `json:"daily_cap"`
	DailyCount   int       `json:"daily_count"`
	WeeklyCap    int       `json:"weekly_cap"`
	WeeklyCount  int       `json:"weekly_count"`
	MonthlyCap   int       `json:"monthly_cap"`
	MonthlyCount int       `json:"monthly_count"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// NoCap marks a quota window as uncapped. Any other negative value is
// treated the same way; a cap of zero admits nothing.
const NoCap = -1

// QuotaExhausted reports whether any window's count has reached its cap.
func (p *TargetingPreference) QuotaExhausted() bool {
	return capReached(p.DailyCap, p.DailyCount) ||
		capReached(p.WeeklyCap, p.WeeklyCount) ||
		capReached(p.MonthlyCap, p.MonthlyCount)
}

// IncrementQuota bumps all three counters by one.
func (p *TargetingPreference) IncrementQuota() {
	p.DailyCount++
	p.WeeklyCount++
	p.MonthlyCount++
}

func capReached(limit, count int) bool {
	return limit >= 0 && count >= limit
}

// TargetingCombo is a de-duplicated external query shared by one or more
// preferences. Key is independent of the input ordering.
type TargetingCombo struct {
	Key            string   `json:"key"`
	Industries     []string `json:"industries"`
	Geography      []string `json:"geography"`
	WorkspaceIDs   []string `json:"workspace_ids"`
	OpenIndustries bool     `json:"open_industries"`
	OpenGeography  bool     `json:"open_geography"`
}

// Open reports whether the combo carries no filter at all.
func (c TargetingCombo) Open() bool {
	return c.OpenIndustries && c.OpenGeography
}

// ComboKey builds the composite key for already-normalized sets.
func ComboKey(industries, geography []string) string {
	return strings.Join(industries, ",") + "|" + strings.Join(geography, ",")
}

// NormalizeSet trims, lower-cases, sorts and de-duplicates values, dropping
// blanks.
func NormalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
