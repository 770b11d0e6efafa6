package recommend

import (
	"strings"

	"mangashelf/pkg/models"
)

const adultAge = 18

var (
	nsfwGenreMarkers = []string{"Hentai", "Ecchi", "Erotica"}
	nsfwRatings      = map[string]struct{}{"erotica": {}, "pornographic": {}}
)

func isNSFW(t models.Title) bool {
	for _, g := range t.Genres {
		for _, m := range nsfwGenreMarkers {
			if strings.Contains(g, m) {
				return true
			}
		}
	}
	_, adult := nsfwRatings[strings.ToLower(strings.TrimSpace(t.ContentRating))]
	return adult
}

func hasAny(values, wanted []string) bool {
	for _, w := range wanted {
		for _, v := range values {
			if v == w {
				return true
			}
		}
	}
	return false
}

func toSet(vals []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

// filterCandidates drops what must never be recommended: stats-only rows,
// adult titles for minors, blacklisted tags and titles already in the
// user's library. The content type filter only applies when at least one
// remaining title matches it.
func filterCandidates(all []models.Title, c Criteria, taste Taste) []models.Title {
	minor := taste.Age != nil && *taste.Age < adultAge
	excluded := toSet(taste.ExcludedIDs)
	blGenres := setKeys(toSet(c.BlacklistGenres))
	blThemes := setKeys(toSet(c.BlacklistThemes))

	out := make([]models.Title, 0, len(all))
	for _, t := range all {
		if strings.HasPrefix(t.ID, "mal:") {
			continue
		}
		if minor && isNSFW(t) {
			continue
		}
		if hasAny(t.Genres, blGenres) || hasAny(t.Themes, blThemes) {
			continue
		}
		if _, ok := excluded[t.ID]; ok {
			continue
		}
		out = append(out, t)
	}

	allowed := toSet(c.ContentTypes)
	if len(allowed) == 0 {
		return out
	}
	matched := make([]models.Title, 0, len(out))
	for _, t := range out {
		if _, ok := allowed[t.ItemType]; ok {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return out
	}
	return matched
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
