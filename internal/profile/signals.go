package profile

import (
	"strings"

	"mangashelf/internal/catalog"
)

const (
	clickWeight             = 0.1
	readingWeight           = 0.05
	readingInProgressWeight = 0.15
	dnrWeight               = -0.8
	finishedBonus           = 0.3
	recommendedMultiplier   = 1.05
)

// SignalInputs is everything a user did that says something about taste.
type SignalInputs struct {
	Ratings []RatedTitle
	Reading []ReadingTitle
	Dnr     []string
	Clicked []string
}

type RatedTitle struct {
	MangaID     string
	Rating      *float64
	Recommended bool
	Finished    bool
}

type ReadingTitle struct {
	MangaID string
	Status  string
}

// ComputeSignals spreads each interaction's weight over the title's tags and
// L1-normalizes the result. Titles without tag data are skipped.
func ComputeSignals(in SignalInputs, tags map[string]catalog.Tags) (genres, themes map[string]float64) {
	genres = map[string]float64{}
	themes = map[string]float64{}
	add := func(id string, w float64) {
		t, ok := tags[id]
		if !ok {
			return
		}
		spread(genres, t.Genres, w)
		spread(themes, t.Themes, w)
	}

	for _, r := range in.Ratings {
		if r.Rating == nil {
			continue
		}
		base := (*r.Rating - 5) / 5
		if r.Recommended {
			base *= recommendedMultiplier
		}
		add(r.MangaID, base)
		if r.Finished {
			add(r.MangaID, finishedBonus)
		}
	}
	for _, id := range in.Dnr {
		add(id, dnrWeight)
	}
	for _, r := range in.Reading {
		w := readingWeight
		if strings.EqualFold(strings.TrimSpace(r.Status), "in progress") {
			w = readingInProgressWeight
		}
		add(r.MangaID, w)
	}
	for _, id := range in.Clicked {
		add(id, clickWeight)
	}
	return normalizeL1(genres), normalizeL1(themes)
}

func spread(target map[string]float64, tags []string, weight float64) {
	if len(tags) == 0 {
		return
	}
	per := weight / float64(len(tags))
	for _, t := range tags {
		target[t] += per
	}
}

func normalizeL1(m map[string]float64) map[string]float64 {
	var denom float64
	for _, v := range m {
		denom += abs(v)
	}
	if denom <= 0 {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v / denom
	}
	return out
}

func (in SignalInputs) ids() []string {
	seen := map[string]struct{}{}
	var out []string
	push := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, r := range in.Ratings {
		push(r.MangaID)
	}
	for _, r := range in.Reading {
		push(r.MangaID)
	}
	for _, id := range in.Dnr {
		push(id)
	}
	for _, id := range in.Clicked {
		push(id)
	}
	return out
}
