package recommend

import (
	"math"
	"regexp"
	"strconv"

	"mangashelf/pkg/models"
)

const (
	requestedGenreWeight = 0.4
	requestedThemeWeight = 0.2
	historyGenreWeight   = 0.075
	historyThemeWeight   = 0.04
	ratedGenreWeight     = 0.2
	ratedThemeWeight     = 0.1
	signalGenreWeight    = 0.1
	signalThemeWeight    = 0.05

	matchWeight   = 0.7
	noveltyWeight = 0.12

	personalizationMinRatings  = 10
	personalizationFullRatings = 30

	ratingAffinityFloor = -0.4
	ratedBoostFloor     = -0.2
	signalBoostCap      = 0.25

	yearPenaltyPerYear = 0.01
	yearPenaltyMax     = 0.25
)

type tagSet struct {
	genres []string
	themes []string
}

// scorer holds everything about the user that is constant across titles.
type scorer struct {
	curGenres, curThemes       map[string]struct{}
	histGenres, histThemes     map[string]int
	histGenreTot, histThemeTot float64
	rateGenres, rateThemes     map[string]float64
	sigGenres, sigThemes       map[string]float64
	signalStrength             float64
}

func newScorer(c Criteria, taste Taste, tags map[string]tagSet) *scorer {
	s := &scorer{
		curGenres:    toSet(c.Genres),
		curThemes:    toSet(c.Themes),
		histGenres:   taste.PreferredGenres,
		histThemes:   taste.PreferredThemes,
		histGenreTot: countTotal(taste.PreferredGenres),
		histThemeTot: countTotal(taste.PreferredThemes),
		sigGenres:    taste.SignalGenres,
		sigThemes:    taste.SignalThemes,
	}
	s.rateGenres, s.rateThemes = ratingAffinities(taste.Ratings, tags)

	rated := 0
	for _, r := range taste.Ratings {
		if r != nil {
			rated++
		}
	}
	s.signalStrength = personalizationStrength(rated, c.Personalize)
	return s
}

func countTotal(m map[string]int) float64 {
	var total float64
	for _, v := range m {
		total += float64(v)
	}
	if total == 0 {
		return 1
	}
	return total
}

// personalizationStrength ramps signal influence in between 10 and 30 ratings.
func personalizationStrength(rated int, enabled bool) float64 {
	switch {
	case !enabled || rated < personalizationMinRatings:
		return 0
	case rated >= personalizationFullRatings:
		return 1
	}
	span := float64(personalizationFullRatings - personalizationMinRatings)
	return float64(rated-personalizationMinRatings) / span
}

// ratingAffinities turns the user's ratings into L1-normalized tag weights.
// Unrated and zero ratings carry no information; negative weights are softened.
func ratingAffinities(ratings map[string]*float64, tags map[string]tagSet) (genres, themes map[string]float64) {
	genres = map[string]float64{}
	themes = map[string]float64{}
	for id, r := range ratings {
		if r == nil || *r == 0 {
			continue
		}
		t, ok := tags[id]
		if !ok {
			continue
		}
		w := math.Max((*r-5)/5, ratingAffinityFloor)
		spreadWeight(genres, t.genres, w)
		spreadWeight(themes, t.themes, w)
	}
	return normalizeL1(genres), normalizeL1(themes)
}

func spreadWeight(target map[string]float64, names []string, w float64) {
	if len(names) == 0 {
		return
	}
	per := w / float64(len(names))
	for _, n := range names {
		target[n] += per
	}
}

func normalizeL1(m map[string]float64) map[string]float64 {
	var denom float64
	for _, v := range m {
		denom += math.Abs(v)
	}
	if denom <= 0 {
		return map[string]float64{}
	}
	for k, v := range m {
		m[k] = v / denom
	}
	return m
}

func overlap(values []string, wanted map[string]struct{}) float64 {
	if len(wanted) == 0 {
		return 0
	}
	n := 0
	for _, v := range uniq(values) {
		if _, ok := wanted[v]; ok {
			n++
		}
	}
	return float64(n) / float64(len(wanted))
}

func meanOf[V int | float64](values []string, weights map[string]V) float64 {
	var sum float64
	for _, v := range uniq(values) {
		sum += float64(weights[v])
	}
	return sum / float64(max(len(uniq(values)), 1))
}

func uniq(vals []string) []string {
	if len(vals) < 2 {
		return vals
	}
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// match returns the raw match score of one title and whether any requested
// tag contributed to it.
func (s *scorer) match(t models.Title) (float64, bool) {
	cur := overlap(t.Genres, s.curGenres)*requestedGenreWeight +
		overlap(t.Themes, s.curThemes)*requestedThemeWeight

	hist := meanOf(t.Genres, s.histGenres)/s.histGenreTot*historyGenreWeight +
		meanOf(t.Themes, s.histThemes)/s.histThemeTot*historyThemeWeight

	rated := math.Max(meanOf(t.Genres, s.rateGenres), ratedBoostFloor)*ratedGenreWeight +
		math.Max(meanOf(t.Themes, s.rateThemes), ratedBoostFloor)*ratedThemeWeight

	sig := clamp(meanOf(t.Genres, s.sigGenres), -signalBoostCap, signalBoostCap)*signalGenreWeight +
		clamp(meanOf(t.Themes, s.sigThemes), -signalBoostCap, signalBoostCap)*signalThemeWeight

	return cur + hist + rated + sig*s.signalStrength, cur > 0
}

func softCap(x float64) float64 {
	return 1 - math.Exp(-x)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// combine blends match with the catalog score when one exists.
func combine(match, internal float64) float64 {
	if internal > 0 {
		return match*matchWeight + internal*(1-matchWeight)
	}
	return match
}

var yearRe = regexp.MustCompile(`(19\d{2}|20\d{2})`)

func titleYear(t models.Title) (int, bool) {
	if t.PublishedYear != nil {
		return *t.PublishedYear, true
	}
	m := yearRe.FindString(t.PublishingDate)
	if m == "" {
		return 0, false
	}
	y, err := strconv.Atoi(m)
	return y, err == nil
}

// yearPenalty scales down titles published before the requested earliest year.
func yearPenalty(t models.Title, earliest *int) float64 {
	if earliest == nil || *earliest <= 0 {
		return 0
	}
	y, ok := titleYear(t)
	if !ok || y >= *earliest {
		return 0
	}
	return math.Min(yearPenaltyMax, float64(*earliest-y)*yearPenaltyPerYear)
}
