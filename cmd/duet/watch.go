package main

import (
	"io"
	"log/slog"

	orchestration "github.com/koscakluka/duet/core"
	"github.com/koscakluka/duet/core/relay"
	"github.com/koscakluka/duet/internal/viewer"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var relayURL string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the dialogue in the terminal",
		Long: `Connects to a relay and renders today's dialogue as it happens. Lines typed
at the prompt are added to the dialogue as human interjections.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if relayURL == "" {
				relayURL = a.cfg.RelayURL
			}
			client, err := relay.NewClient(relayURL)
			if err != nil {
				return err
			}

			opts, err := orchestratorOptions(a.cfg)
			if err != nil {
				return err
			}
			// The terminal belongs to the viewer.
			quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
			o, err := orchestration.NewOrchestrator(append(opts,
				orchestration.WithBackend(client),
				orchestration.WithPassive(),
				orchestration.WithLogger(quiet),
			)...)
			if err != nil {
				return err
			}
			defer o.Close()

			notifier := viewer.NewNotifier()
			o.Orchestrate(ctx, orchestration.WithEventCallback(notifier.Notify))

			return viewer.Run(ctx, o, notifier, a.names())
		},
	}
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay base URL (defaults to DUET_RELAY_URL)")
	return cmd
}
