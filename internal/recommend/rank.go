package recommend

import (
	"math"
	"math/rand/v2"
	"sort"

	"mangashelf/internal/catalog"
	"mangashelf/pkg/models"
)

const (
	rerollPoolMultiplier = 3
	rerollAnchorPercent  = 30
	rerollTemperature    = 0.7
)

type candidate struct {
	title    models.Title
	match    float64
	internal float64
	combined float64
}

func (c candidate) scored() Scored {
	s := scoredFrom(c.title)
	s.MatchScore = c.match
	s.InternalScore = c.internal
	s.CombinedScore = c.combined
	return s
}

// Rank scores, orders and selects recommendations from the whole catalog.
// rng is only consulted when rerolling.
func Rank(all []models.Title, in Input, rng *rand.Rand) Result {
	c := in.Criteria
	limit := c.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if rng == nil {
		rng = newRand(c.Seed)
	}

	tags := make(map[string]tagSet, len(all))
	for _, t := range all {
		tags[t.ID] = tagSet{genres: t.Genres, themes: t.Themes}
	}
	s := newScorer(c, in.Taste, tags)

	pool := filterCandidates(all, c, in.Taste)
	cands := make([]candidate, 0, len(pool))
	usedCurrent := false
	for _, t := range pool {
		m, used := s.match(t)
		usedCurrent = usedCurrent || used
		cands = append(cands, candidate{title: t, match: m})
	}

	// nothing requested matched: let the remaining weights fill the scale
	boost := 1.0
	if !usedCurrent {
		boost = 1 / (1 - (requestedGenreWeight + requestedThemeWeight))
	}
	for i := range cands {
		cd := &cands[i]
		cd.match = softCap(cd.match * boost)
		if cd.title.Score != nil {
			cd.internal = round3(*cd.title.Score * 0.1)
		}
		cd.combined = combine(cd.match, cd.internal) * (1 - yearPenalty(cd.title, c.MinYear))
	}

	sortByCombined(cands)
	cands = dedupByTitle(cands)
	if c.Novelty {
		applyNovelty(cands)
		sortByCombined(cands)
	}

	var picked []candidate
	switch {
	case c.Reroll:
		pool, anchors := rerollPool(cands, limit, rng)
		if c.Diversify {
			picked = selectDiverse(pool, limit, anchors)
		} else {
			picked = weightedSample(pool, min(limit, len(pool)), rng)
		}
	case c.Diversify:
		picked = selectDiverse(cands, limit, nil)
	default:
		picked = cands[:min(limit, len(cands))]
	}

	out := Result{Items: make([]Scored, 0, len(picked)), UsedCurrent: usedCurrent}
	for _, p := range picked {
		out.Items = append(out.Items, p.scored())
	}
	return out
}

func newRand(seed *uint64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewPCG(*seed, *seed))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func sortByCombined(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].combined > cands[j].combined
	})
}

func dedupByTitle(cands []candidate) []candidate {
	return catalog.CollapseBy(cands, func(c candidate) string { return c.title.Title })
}

// applyNovelty blends in inverse log-popularity, min-max scaled over the pool.
func applyNovelty(cands []candidate) {
	if len(cands) == 0 {
		return
	}
	logs := make([]float64, len(cands))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, c := range cands {
		var members float64
		if c.title.Members != nil && *c.title.Members > 0 {
			members = float64(*c.title.Members)
		}
		logs[i] = math.Log1p(members)
		lo = math.Min(lo, logs[i])
		hi = math.Max(hi, logs[i])
	}
	for i := range cands {
		novelty := 1.0
		if hi > lo {
			novelty = 1 - (logs[i]-lo)/(hi-lo)
		}
		cands[i].combined = (1-noveltyWeight)*cands[i].combined + noveltyWeight*novelty
	}
}

// rerollPool keeps the top 30% of limit as anchors and softmax-samples the
// rest from a pool three times the limit.
func rerollPool(ranked []candidate, limit int, rng *rand.Rand) (pool, anchors []candidate) {
	if len(ranked) <= limit {
		return ranked, nil
	}
	size := min(len(ranked), max(limit, limit*rerollPoolMultiplier))
	top := ranked[:size]
	anchorN := max(1, limit*rerollAnchorPercent/100)
	anchors = top[:anchorN]
	rest := top[anchorN:]
	sampleN := min(len(rest), max(limit*2, limit)-anchorN)

	pool = append(append([]candidate{}, anchors...), weightedSample(rest, sampleN, rng)...)
	return pool, anchors
}

// weightedSample draws n items without replacement, weighting each by
// exp(combined / temperature).
func weightedSample(cands []candidate, n int, rng *rand.Rand) []candidate {
	if n <= 0 || len(cands) == 0 {
		return nil
	}
	left := append([]candidate{}, cands...)
	weights := make([]float64, len(left))
	for i, c := range left {
		weights[i] = math.Exp(c.combined / rerollTemperature)
	}

	out := make([]candidate, 0, n)
	for len(out) < n && len(left) > 0 {
		var total float64
		for _, w := range weights {
			total += w
		}
		pick := len(left) - 1
		if total > 0 {
			r := rng.Float64() * total
			for i, w := range weights {
				if r < w {
					pick = i
					break
				}
				r -= w
			}
		}
		out = append(out, left[pick])
		left = append(left[:pick], left[pick+1:]...)
		weights = append(weights[:pick], weights[pick+1:]...)
	}
	return out
}

// selectDiverse walks the ranking and skips titles that would repeat a
// series or overload a genre or theme. Required titles are always taken
// first; skipped titles backfill when the caps leave the list short.
func selectDiverse(ranked []candidate, limit int, required []candidate) []candidate {
	if len(ranked) == 0 {
		return nil
	}
	maxGenre := max(3, limit/3)
	maxTheme := max(2, limit/4)

	var (
		picked   []candidate
		seen     = map[string]struct{}{}
		genres   = map[string]int{}
		themes   = map[string]int{}
		series   = map[string]int{}
		fallback []candidate
	)
	add := func(c candidate, force bool) bool {
		if _, ok := seen[c.title.ID]; ok {
			return false
		}
		key := catalog.SeriesKey(firstNonEmpty(c.title.Title, c.title.EnglishName))
		if !force {
			if key != "" && series[key] >= 1 {
				return false
			}
			for _, g := range uniq(c.title.Genres) {
				if genres[g] >= maxGenre {
					return false
				}
			}
			for _, th := range uniq(c.title.Themes) {
				if themes[th] >= maxTheme {
					return false
				}
			}
		}
		picked = append(picked, c)
		seen[c.title.ID] = struct{}{}
		if key != "" {
			series[key]++
		}
		for _, g := range uniq(c.title.Genres) {
			genres[g]++
		}
		for _, th := range uniq(c.title.Themes) {
			themes[th]++
		}
		return true
	}

	for _, c := range required {
		add(c, true)
	}
	for _, c := range ranked {
		if _, ok := seen[c.title.ID]; ok {
			continue
		}
		if add(c, false) {
			if len(picked) >= limit {
				break
			}
		} else {
			fallback = append(fallback, c)
		}
	}
	for _, c := range fallback {
		if len(picked) >= limit {
			break
		}
		add(c, true)
	}
	return picked
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
