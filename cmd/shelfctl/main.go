package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mangashelf/internal/logging"
	"mangashelf/pkg/database"
	"mangashelf/pkg/utils"
)

var (
	flagDB      string
	flagNoColor bool
)

var rootCmd = &cobra.Command{
	Use:   "shelfctl",
	Short: "Administer a mangashelf database",
	Long: `shelfctl runs maintenance tasks against the mangashelf sqlite database:
migrations, catalog and ratings CSV transfer, user listing and the catalog mirror.

The database path comes from --db, then SHELF_DB_PATH or shelf.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagNoColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "sqlite database path")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newImportCmd(),
		newExportCmd(),
		newUsersCmd(),
		newMirrorCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// openDB loads config, opens the database and applies pending migrations.
func openDB(ctx context.Context) (*sql.DB, *utils.Config, error) {
	cfg, err := utils.Load()
	if err != nil {
		return nil, nil, err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	path := cfg.Database.Path
	if flagDB != "" {
		path = flagDB
	}
	db, err := database.Open(database.Config{Path: path})
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return db, cfg, nil
}

func ok(format string, args ...any) {
	fmt.Printf("%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}
