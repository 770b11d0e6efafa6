package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mangashelf/internal/auth"
	"mangashelf/internal/catalog"
	"mangashelf/internal/library"
	"mangashelf/internal/profile"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import catalog or ratings from CSV",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "catalog <file.csv>",
		Short: "Upsert catalog titles from a CSV with a header row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, _, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := catalog.NewRepo(db).ImportCSV(ctx, f)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			ok("imported %d titles from %s", n, args[0])
			return nil
		},
	})

	var user string
	ratings := &cobra.Command{
		Use:   "ratings <file.csv>",
		Short: "Import manga_id,rating rows into one user's ratings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return withUserLibrary(cmd.Context(), user, func(ctx context.Context, svc *library.Service, userID string) error {
				n, err := svc.ImportRatingsCSV(ctx, userID, f)
				if err != nil {
					return fmt.Errorf("import %s after %d rows: %w", args[0], n, err)
				}
				ok("imported %d ratings for %s", n, user)
				return nil
			})
		},
	}
	ratings.Flags().StringVar(&user, "user", "", "username (created when missing)")
	_ = ratings.MarkFlagRequired("user")
	cmd.AddCommand(ratings)

	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export catalog, ratings or the mirror feed",
	}

	var catalogOut string
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Write the catalog as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, _, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			return writeOutput(catalogOut, func(w io.Writer) error {
				n, err := catalog.NewRepo(db).ExportCSV(ctx, w)
				if err == nil && catalogOut != "-" {
					ok("exported %d titles to %s", n, catalogOut)
				}
				return err
			})
		},
	}
	cat.Flags().StringVarP(&catalogOut, "out", "o", "data/catalog.csv", "output path, - for stdout")
	cmd.AddCommand(cat)

	var (
		user       string
		ratingsOut string
	)
	ratings := &cobra.Command{
		Use:   "ratings",
		Short: "Write one user's ratings as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserLibrary(cmd.Context(), user, func(ctx context.Context, svc *library.Service, userID string) error {
				return writeOutput(ratingsOut, func(w io.Writer) error {
					return svc.ExportRatingsCSV(ctx, userID, w)
				})
			})
		},
	}
	ratings.Flags().StringVar(&user, "user", "", "username")
	ratings.Flags().StringVarP(&ratingsOut, "out", "o", "-", "output path, - for stdout")
	_ = ratings.MarkFlagRequired("user")
	cmd.AddCommand(ratings)

	cmd.AddCommand(newExportMirrorCmd())
	return cmd
}

// withUserLibrary resolves username to a user id, creating the account
// without a password when missing.
func withUserLibrary(ctx context.Context, username string, fn func(context.Context, *library.Service, string) error) error {
	db, cfg, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	u, err := auth.NewService(auth.NewRepo(db), cfg.Auth.BootstrapAdmin).EnsureUser(ctx, username)
	if err != nil {
		return fmt.Errorf("ensure user %q: %w", username, err)
	}
	catalogRepo := catalog.NewRepo(db)
	svc := library.NewService(library.NewRepo(db), catalogRepo, nil)
	svc.Signals = profile.NewService(profile.NewRepo(db), catalogRepo)
	return fn(ctx, svc, u.ID)
}

func writeOutput(path string, fn func(io.Writer) error) error {
	if path == "-" || path == "" {
		return fn(os.Stdout)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
