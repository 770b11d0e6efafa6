package scraper

import (
	"context"
	"fmt"
	"time"

	"mangashelf/internal/logging"
	"mangashelf/pkg/models"
)

// Store receives merged titles. catalog.Repo satisfies it.
type Store interface {
	Upsert(ctx context.Context, titles []models.Title) (int, error)
}

// Run fetches every source, merges and upserts the result.
func Run(ctx context.Context, agg *Aggregator, store Store) (int, error) {
	start := time.Now()

	titles, err := agg.FetchAndMerge(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch and merge: %w", err)
	}
	if len(titles) == 0 {
		logging.Warn().Msg("scraper: no titles fetched")
		return 0, nil
	}

	n, err := store.Upsert(ctx, titles)
	if err != nil {
		return 0, fmt.Errorf("save titles: %w", err)
	}
	logging.Info().
		Int("merged", len(titles)).
		Int("saved", n).
		Dur("took", time.Since(start)).
		Msg("scraper: done")
	return n, nil
}
