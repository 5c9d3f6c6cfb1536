// Package targeting folds many users' preferences into the minimal set of
// distinct provider queries.
package targeting

import (
	"github.com/sells-group/lead-sourcing/internal/model"
)

// Aggregate groups active preferences by their normalized (industries,
// geography) pair. Output order is the first-seen order of each key, so
// the same input always yields the same combo sequence. Each combo carries
// the de-duplicated workspaces that own it.
func Aggregate(prefs []model.TargetingPreference) []model.TargetingCombo {
	index := make(map[string]int)
	var combos []model.TargetingCombo

	for _, p := range prefs {
		if !p.IsActive {
			continue
		}

		industries := model.NormalizeSet(p.Industries)
		geo := p.Geography.Values()
		key := model.ComboKey(industries, geo)

		i, ok := index[key]
		if !ok {
			i = len(combos)
			index[key] = i
			combos = append(combos, model.TargetingCombo{
				Key:            key,
				Industries:     industries,
				Geography:      geo,
				OpenIndustries: len(industries) == 0,
				OpenGeography:  len(geo) == 0,
			})
		}
		combos[i].WorkspaceIDs = appendUnique(combos[i].WorkspaceIDs, p.WorkspaceID)
	}

	return combos
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
