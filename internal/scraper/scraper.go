package scraper

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"mangashelf/internal/catalog"
	"mangashelf/internal/logging"
	"mangashelf/pkg/models"
)

// Source is implemented by each external data source. Each source fetches
// its own format and maps it into models.Title.
type Source interface {
	Name() string
	FetchAll(ctx context.Context) ([]models.Title, error)
}

// Aggregator fetches every source and merges entries that describe the same
// series.
type Aggregator struct {
	Sources []Source
}

func NewAggregator(sources ...Source) *Aggregator {
	return &Aggregator{Sources: sources}
}

// FetchAndMerge queries all sources concurrently. A failing source is logged
// and skipped. Merging follows source order, so the first source wins ties.
func (a *Aggregator) FetchAndMerge(ctx context.Context) ([]models.Title, error) {
	results := make([][]models.Title, len(a.Sources))

	var g errgroup.Group
	for i, src := range a.Sources {
		g.Go(func() error {
			logging.Info().Str("source", src.Name()).Msg("fetching")
			titles, err := src.FetchAll(ctx)
			if err != nil {
				logging.Warn().Err(err).Str("source", src.Name()).Msg("source failed, skipping")
				return nil
			}
			logging.Info().Str("source", src.Name()).Int("count", len(titles)).Msg("fetched")
			results[i] = titles
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		order []string
		byKey = make(map[string]models.Title)
	)
	for _, titles := range results {
		for _, t := range titles {
			key := catalog.TitleKey(t)
			if key == "" {
				key = "id:" + t.ID
			}
			if existing, ok := byKey[key]; ok {
				byKey[key] = mergeTitle(existing, t)
				continue
			}
			byKey[key] = t
			order = append(order, key)
		}
	}

	out := make([]models.Title, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out, nil
}

// mergeTitle folds incoming into base: base keeps its id and title, gaps are
// filled from incoming, tag lists are unioned, the higher chapter count and
// the longer description win.
func mergeTitle(base, incoming models.Title) models.Title {
	for _, alt := range []string{incoming.Title, incoming.EnglishName} {
		if alt != "" && alt != base.Title && alt != base.EnglishName {
			base.Synonyms = appendIfMissing(base.Synonyms, alt)
		}
	}
	base.Synonyms = mergeStringSlices(base.Synonyms, incoming.Synonyms)
	base.Genres = mergeStringSlices(base.Genres, incoming.Genres)
	base.Themes = mergeStringSlices(base.Themes, incoming.Themes)
	base.Authors = mergeStringSlices(base.Authors, incoming.Authors)

	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&base.EnglishName, incoming.EnglishName)
	fill(&base.JapaneseName, incoming.JapaneseName)
	fill(&base.ItemType, incoming.ItemType)
	fill(&base.Demographic, incoming.Demographic)
	fill(&base.Serialization, incoming.Serialization)
	fill(&base.CoverURL, incoming.CoverURL)
	fill(&base.Link, incoming.Link)
	fill(&base.OriginalLanguage, incoming.OriginalLanguage)
	fill(&base.ContentRating, incoming.ContentRating)
	fill(&base.PublishingDate, incoming.PublishingDate)

	base.Status = resolveStatus(base.Status, incoming.Status)

	if len(incoming.Description) > len(base.Description) {
		base.Description = incoming.Description
	}
	if incoming.Chapters != nil && (base.Chapters == nil || *incoming.Chapters > *base.Chapters) {
		base.Chapters = incoming.Chapters
	}
	if incoming.Volumes != nil && (base.Volumes == nil || *incoming.Volumes > *base.Volumes) {
		base.Volumes = incoming.Volumes
	}
	if base.PublishedYear == nil {
		base.PublishedYear = incoming.PublishedYear
	}
	if base.MalID == nil {
		base.MalID = incoming.MalID
	}
	if base.Score == nil {
		base.Score = incoming.Score
	}
	if incoming.Members != nil && (base.Members == nil || *incoming.Members > *base.Members) {
		base.Members = incoming.Members
	}

	if len(incoming.Links) > 0 {
		if base.Links == nil {
			base.Links = make(map[string]string, len(incoming.Links))
		}
		for k, v := range incoming.Links {
			if _, ok := base.Links[k]; !ok {
				base.Links[k] = v
			}
		}
	}
	return base
}

func appendIfMissing(slice []string, v string) []string {
	for _, x := range slice {
		if x == v {
			return slice
		}
	}
	return append(slice, v)
}

func mergeStringSlices(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		out = appendIfMissing(out, v)
	}
	for _, v := range b {
		out = appendIfMissing(out, v)
	}
	return out
}

// resolveStatus prefers "completed" from either side, else the first
// non-empty value.
func resolveStatus(a, b string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == "completed" || b == "completed" {
		return "completed"
	}
	if a != "" {
		return a
	}
	return b
}
