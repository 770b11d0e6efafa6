package main

import (
	"github.com/spf13/cobra"

	"mangashelf/internal/catalog"
)

func newMigrateCmd() *cobra.Command {
	var normalize bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, _, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			ok("schema up to date")

			if !normalize {
				return nil
			}
			n, err := catalog.NewRepo(db).NormalizeStoredLists(ctx)
			if err != nil {
				return err
			}
			ok("normalized list columns on %d titles", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&normalize, "normalize-lists", false, "rewrite legacy list columns as JSON arrays")
	return cmd
}
