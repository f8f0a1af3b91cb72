package main

import (
	"errors"

	"github.com/koscakluka/duet/core/store/postgres"
	"github.com/spf13/cobra"
)

var errNoDatabase = errors.New("DATABASE_URL is required")

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.UsesPostgres() {
				return errNoDatabase
			}
			if err := postgres.Migrate(a.cfg.DatabaseURL); err != nil {
				return err
			}
			a.log.Info("database is up to date")
			return nil
		},
	}
}
