package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/relay"
	"github.com/koscakluka/duet/core/store"
	"github.com/koscakluka/duet/internal/viewer"
	"github.com/spf13/cobra"
)

const transcriptWidth = 80

func newHistoryCmd(a *app) *cobra.Command {
	var viaRelay bool

	cmd := &cobra.Command{
		Use:   "history [date]",
		Short: "List past sessions or print one day's transcript",
		Long: `Without arguments, lists every stored session, newest first. With a date
(YYYY-MM-DD), prints that day's transcript.

Reads the database when DATABASE_URL is set, the relay otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			history, closeHistory, err := a.openHistory(ctx, viaRelay)
			defer closeHistory()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				sessions, err := history.ListSessions(ctx)
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), sessions)
			}
			return printDay(ctx, cmd.OutOrStdout(), history, args[0], a.names())
		},
	}
	cmd.Flags().BoolVar(&viaRelay, "relay", false, "read through the relay even when DATABASE_URL is set")
	return cmd
}

func (a *app) openHistory(ctx context.Context, viaRelay bool) (store.History, func(), error) {
	if a.cfg.UsesPostgres() && !viaRelay {
		return a.openBackend(ctx)
	}
	client, err := relay.NewClient(a.cfg.RelayURL)
	return client, func() {}, err
}

func printSessions(w io.Writer, sessions []dialogue.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "no sessions yet")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTOPIC\tID")
	for _, session := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", session.DateKey, session.Topic, session.ID)
	}
	return tw.Flush()
}

func printDay(ctx context.Context, w io.Writer, history store.History, dateKey string, names viewer.Names) error {
	if _, err := time.Parse(dialogue.DateKeyLayout, dateKey); err != nil {
		return fmt.Errorf("date %q must look like YYYY-MM-DD", dateKey)
	}

	sessions, err := history.ListSessions(ctx)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if session.DateKey != dateKey {
			continue
		}

		turns, err := history.SessionTurns(ctx, session.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s · %s\n\n", session.DateKey, session.Topic)
		_, err = fmt.Fprintln(w, viewer.RenderTurns(turns, names, transcriptWidth))
		return err
	}

	return fmt.Errorf("no session on %s: %w", dateKey, store.ErrNotFound)
}
