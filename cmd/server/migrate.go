package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rpattn/bulkingest/internal/db"
)

func newMigrateCommand(stdout, stderr io.Writer) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres migrations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				names, err := db.MigrationNames()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(stdout, name)
				}
				return nil
			}

			cfg, logger, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			return db.RunMigrations(cfg.Database, logger)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List the embedded migrations instead of applying them.")
	return cmd
}
