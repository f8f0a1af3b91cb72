package main

import (
	"context"

	orchestration "github.com/koscakluka/duet/core"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/relay"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Produce the dialogue",
		Long: `Runs the producing orchestrator: it loads today's session, generates a turn
on every tick and stores it. With --listen it also serves the relay so that
viewers can follow along.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "also serve the relay on this address (for example :8080)")
	return cmd
}

func (a *app) run(ctx context.Context, listen string) error {
	backend, closeBackend, err := a.openBackend(ctx)
	defer closeBackend()
	if err != nil {
		return err
	}

	generator, err := newGenerator(a.cfg)
	if err != nil {
		return err
	}
	opts, err := orchestratorOptions(a.cfg)
	if err != nil {
		return err
	}

	o, err := orchestration.NewOrchestrator(append(opts,
		orchestration.WithBackend(backend),
		orchestration.WithGenerator(generator),
		orchestration.WithLogger(a.log),
	)...)
	if err != nil {
		return err
	}

	names := a.names()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.Orchestrate(ctx,
			orchestration.WithTurnCallback(func(turn dialogue.Turn) {
				a.log.Info("turn", "order", turn.Order, "speaker", names.For(turn.Speaker), "text", turn.Text)
			}),
			orchestration.WithDormancyCallback(func(dormant bool) {
				a.log.Info("dormancy changed", "dormant", dormant)
			}),
		)
		<-ctx.Done()
		o.Close()
		return nil
	})
	if listen != "" {
		g.Go(func() error {
			return relay.NewServer(backend).Run(ctx, listen)
		})
	}

	return g.Wait()
}
