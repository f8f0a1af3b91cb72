package main

import (
	"github.com/koscakluka/duet/core/relay"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the relay without producing turns",
		Long: `Exposes the configured store and broadcast over HTTP and websockets. Use it
when the producer runs elsewhere and shares the same database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			backend, closeBackend, err := a.openBackend(ctx)
			defer closeBackend()
			if err != nil {
				return err
			}

			if listen == "" {
				listen = a.cfg.Listen
			}
			return relay.NewServer(backend).Run(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to serve on (defaults to DUET_LISTEN)")
	return cmd
}
