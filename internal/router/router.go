// Package router allocates newly ingested leads to the users whose
// targeting preferences match them, under per-user quotas.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/store"
)

// Config bounds the routing pass.
type Config struct {
	// Window is how far before the run start leads are considered new.
	Window time.Duration
	// MaxLeads caps how many leads one pass reads.
	MaxLeads int
}

// Result tallies one routing pass.
type Result struct {
	LeadsScanned    int `json:"leads_scanned"`
	Assignments     int `json:"assignments"`
	Duplicates      int `json:"duplicates"`
	PrimaryAssigned int `json:"primary_assigned"`
	QuotaSkipped    int `json:"quota_skipped"`
	Errors          int `json:"errors"`
}

// Router matches leads against active preferences.
type Router struct {
	store store.LeadStore
	cfg   Config
	log   *zap.Logger
}

// New creates a Router. A zero window defaults to two hours.
func New(st store.LeadStore, cfg Config) *Router {
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Hour
	}
	if cfg.MaxLeads <= 0 {
		cfg.MaxLeads = 10000
	}
	return &Router{
		store: st,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "router")),
	}
}

// Since returns the start of the recency window for a run started at runStart.
func (r *Router) Since(runStart time.Time) time.Time {
	return runStart.Add(-r.cfg.Window)
}

// Route assigns every lead created at or after since. Preferences are
// evaluated in created_at order, so the earliest matching preference becomes
// the primary owner. Per-assignment write failures are logged and counted.
func (r *Router) Route(ctx context.Context, since time.Time) (*Result, error) {
	leads, err := r.store.ListLeadsSince(ctx, model.SourceSegmentPull, since, r.cfg.MaxLeads)
	if err != nil {
		return nil, eris.Wrap(err, "router: list leads")
	}
	prefs, err := r.store.ListActivePreferences(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "router: list preferences")
	}

	byWorkspace := make(map[string][]*matcher)
	for i := range prefs {
		m := newMatcher(&prefs[i])
		byWorkspace[m.pref.WorkspaceID] = append(byWorkspace[m.pref.WorkspaceID], m)
	}

	res := &Result{}
	for i := range leads {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "router: route")
		}
		res.LeadsScanned++
		r.routeLead(ctx, &leads[i], byWorkspace[leads[i].WorkspaceID], res)
	}

	r.log.Info("routing complete",
		zap.Time("since", since),
		zap.Int("leads", res.LeadsScanned),
		zap.Int("assignments", res.Assignments),
		zap.Int("primary_assigned", res.PrimaryAssigned),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("quota_skipped", res.QuotaSkipped),
		zap.Int("errors", res.Errors),
	)
	return res, nil
}

func (r *Router) routeLead(ctx context.Context, lead *model.Lead, matchers []*matcher, res *Result) {
	for _, m := range matchers {
		industry, geo, ok := m.match(lead)
		if !ok {
			continue
		}
		if m.pref.QuotaExhausted() {
			res.QuotaSkipped++
			continue
		}

		log := r.log.With(
			zap.String("lead_id", lead.ID),
			zap.String("user_id", m.pref.UserID),
			zap.String("preference_id", m.pref.ID),
		)

		inserted, err := r.store.InsertAssignment(ctx, &model.LeadAssignment{
			WorkspaceID:     lead.WorkspaceID,
			LeadID:          lead.ID,
			UserID:          m.pref.UserID,
			PreferenceID:    m.pref.ID,
			MatchedIndustry: industry,
			MatchedGeo:      geo,
			Status:          model.AssignmentStatusActive,
		})
		if err != nil {
			log.Warn("insert assignment failed", zap.Error(err))
			res.Errors++
			continue
		}
		if !inserted {
			res.Duplicates++
			continue
		}
		res.Assignments++

		if lead.AssignedUserID == nil {
			set, err := r.store.SetAssignedUserIfUnset(ctx, lead.ID, m.pref.UserID)
			switch {
			case err != nil:
				log.Warn("set primary owner failed", zap.Error(err))
				res.Errors++
			case set:
				uid := m.pref.UserID
				lead.AssignedUserID = &uid
				res.PrimaryAssigned++
			}
		}

		// The in-memory counters advance even when the write fails so the
		// cap still holds for the rest of this pass.
		m.pref.IncrementQuota()
		if err := r.store.IncrementQuota(ctx, m.pref.ID); err != nil {
			log.Warn("increment quota failed", zap.Error(err))
			res.Errors++
		}
	}
}

type matcher struct {
	pref       *model.TargetingPreference
	industries map[string]struct{}
	states     map[string]struct{}
	cities     map[string]struct{}
	postals    map[string]struct{}
}

func newMatcher(p *model.TargetingPreference) *matcher {
	return &matcher{
		pref:       p,
		industries: toSet(p.Industries),
		states:     toSet(p.Geography.States),
		cities:     toSet(p.Geography.Cities),
		postals:    toSet(p.Geography.PostalCodes),
	}
}

func (m *matcher) hasGeography() bool {
	return len(m.states)+len(m.cities)+len(m.postals) > 0
}

// match reports whether lead satisfies both dimensions and returns the
// values that matched. An empty dimension matches anything, but a
// preference with no filter at all never matches. A lead missing the field
// a filter needs does not match.
func (m *matcher) match(lead *model.Lead) (industry, geo *string, ok bool) {
	if len(m.industries) == 0 && !m.hasGeography() {
		return nil, nil, false
	}

	if len(m.industries) > 0 {
		v := normalize(lead.Industry)
		if _, hit := m.industries[v]; v == "" || !hit {
			return nil, nil, false
		}
		industry = &v
	}

	if m.hasGeography() {
		v, hit := m.matchGeo(lead)
		if !hit {
			return nil, nil, false
		}
		geo = &v
	}
	return industry, geo, true
}

func (m *matcher) matchGeo(lead *model.Lead) (string, bool) {
	for _, c := range []struct {
		set   map[string]struct{}
		value string
	}{
		{m.states, lead.State},
		{m.cities, lead.City},
		{m.postals, lead.PostalCode},
	} {
		v := normalize(c.value)
		if v == "" {
			continue
		}
		if _, ok := c.set[v]; ok {
			return v, true
		}
	}
	return "", false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range model.NormalizeSet(values) {
		set[v] = struct{}{}
	}
	return set
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
