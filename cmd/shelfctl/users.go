package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mangashelf/internal/auth"
	"mangashelf/internal/profile"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect user accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users with their rating counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, _, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			users, err := auth.NewRepo(db).List(ctx)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println(color.YellowString("no users"))
				return nil
			}

			profiles := profile.NewRepo(db)
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				rated, err := profiles.RatingsCount(ctx, u.ID)
				if err != nil {
					return err
				}
				role := ""
				if u.IsAdmin {
					role = color.CyanString("admin")
				}
				rows = append(rows, []string{
					u.Username, u.ID, u.Language, role,
					strconv.Itoa(rated), u.CreatedAt.Format("2006-01-02"),
				})
			}
			fmt.Println(renderTable(
				[]string{"Username", "ID", "Language", "Role", "Rated", "Created"},
				rows, 5,
			))
			return nil
		},
	})
	return cmd
}
