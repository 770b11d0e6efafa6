package main

import (
	"context"
	"flag"
	"time"

	"mangashelf/internal/catalog"
	"mangashelf/internal/logging"
	"mangashelf/internal/scraper"
	"mangashelf/pkg/database"
	"mangashelf/pkg/utils"
)

func main() {
	noMirror := flag.Bool("no-mirror", false, "skip the mirror source")
	flag.Parse()

	cfg, err := utils.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := database.MustOpen(database.Config{Path: cfg.Database.Path})
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logging.Fatal().Err(err).Msg("db migrate failed")
	}

	sources := []scraper.Source{
		scraper.NewMangaDex(cfg.Scraper.MangaDexURL, cfg.Scraper.Limit, cfg.Scraper.Timeout),
	}
	if !*noMirror && cfg.Scraper.MirrorURL != "" {
		sources = append(sources, scraper.NewMirror(cfg.Scraper.MirrorURL, cfg.Scraper.Timeout))
	}

	n, err := scraper.Run(ctx, scraper.NewAggregator(sources...), catalog.NewRepo(db))
	if err != nil {
		logging.Fatal().Err(err).Msg("scrape failed")
	}
	logging.Info().Int("titles", n).Msg("catalog populated")
}
