package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"mangashelf/internal/catalog"
	"mangashelf/internal/logging"
	"mangashelf/internal/scraper"
)

func newExportMirrorCmd() *cobra.Command {
	var (
		out   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Write the catalog as a mirror feed for the scraper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, _, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			titles, err := catalog.NewRepo(db).All(ctx)
			if err != nil {
				return err
			}
			rows := make([]scraper.MirrorTitle, 0, len(titles))
			for _, t := range titles {
				if strings.HasPrefix(t.ID, "mal:") {
					continue
				}
				rows = append(rows, scraper.FromTitle(t))
				if limit > 0 && len(rows) >= limit {
					break
				}
			}

			if err := writeOutput(out, func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}); err != nil {
				return err
			}
			if out != "-" {
				ok("wrote %d mirror titles to %s", len(rows), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "data/mirror.json", "output path, - for stdout")
	cmd.Flags().IntVar(&limit, "limit", 200, "maximum titles, 0 for all")
	return cmd
}

func newMirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Run the catalog mirror",
	}

	var (
		addr string
		path string
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve a mirror feed at GET /titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("mirror feed: %w", err)
			}
			gin.SetMode(gin.ReleaseMode)
			r := gin.New()
			r.Use(gin.Recovery(), logging.Middleware())
			r.GET("/titles", mirrorHandler(path))

			ok("mirror listening on %s", addr)
			if err := r.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	serve.Flags().StringVar(&addr, "addr", ":9000", "listen address")
	serve.Flags().StringVar(&path, "file", "data/mirror.json", "mirror feed to serve")
	cmd.AddCommand(serve)
	return cmd
}

// mirrorHandler rereads the feed per request so it can be regenerated while
// the mirror runs.
func mirrorHandler(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := os.ReadFile(path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot read mirror feed"})
			return
		}
		var rows []scraper.MirrorTitle
		if err := json.Unmarshal(b, &rows); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "mirror feed is not a title array"})
			return
		}
		c.Data(http.StatusOK, "application/json", b)
	}
}
