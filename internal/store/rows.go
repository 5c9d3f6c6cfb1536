package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sourcing/internal/model"
)

// prepareLead fills identity and defaults before an insert.
func prepareLead(l *model.Lead) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.Status == "" {
		l.Status = model.LeadStatusNew
	}
}

func prepareAssignment(a *model.LeadAssignment) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.AssignmentStatusActive
	}
}

func encodePreferenceJSON(p *model.TargetingPreference) ([]byte, []byte, error) {
	industries := p.Industries
	if industries == nil {
		industries = []string{}
	}
	industriesJSON, err := json.Marshal(industries)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal industries")
	}
	geoJSON, err := json.Marshal(p.Geography)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal geography")
	}
	return industriesJSON, geoJSON, nil
}

func decodePreferenceJSON(p *model.TargetingPreference, industriesJSON, geoJSON []byte) error {
	if len(industriesJSON) > 0 {
		if err := json.Unmarshal(industriesJSON, &p.Industries); err != nil {
			return eris.Wrap(err, "unmarshal industries")
		}
	}
	if len(geoJSON) > 0 {
		if err := json.Unmarshal(geoJSON, &p.Geography); err != nil {
			return eris.Wrap(err, "unmarshal geography")
		}
	}
	return nil
}
