package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/koscakluka/duet/internal/config"
	"github.com/koscakluka/duet/internal/telemetry"
	"github.com/spf13/cobra"
)

// app is shared by every subcommand once the root pre-run has loaded it.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	shutdown telemetry.Shutdown
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "duet",
		Short: "A perpetual dialogue between two machine speakers",
		Long: `duet keeps two personas talking about the topic of the day, one turn
every few minutes, resting overnight. Turns are stored per calendar day and
broadcast to every viewer.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newHistoryCmd(a),
		newMigrateCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := telemetry.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	a.cfg, a.log, a.shutdown = cfg, log, shutdown
	return nil
}

func (a *app) teardown() error {
	if a.shutdown == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("failed to flush telemetry", "error", err)
	}
	return nil
}
