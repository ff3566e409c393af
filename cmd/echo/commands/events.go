package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/LCH-chanho/ECHO/pkg/cli"
	"github.com/LCH-chanho/ECHO/pkg/journal"
)

var (
	flagSince time.Duration
	flagLimit int
	flagPrune time.Duration
)

type eventList []journal.Event

func (l eventList) Table() cli.Table {
	t := cli.Table{Headers: []string{"TIME", "CLASS", "PROBABILITY", "COMMAND", "SENT"}}
	for _, ev := range l {
		sent := "no"
		if ev.Dispatched {
			sent = "yes"
		}
		t.Rows = append(t.Rows, []string{
			ev.Time.Local().Format(time.DateTime),
			ev.Class,
			fmt.Sprintf("%.3f", ev.Probability),
			ev.Command,
			sent,
		})
	}
	return t
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List confirmed detections from the journal",
	Long: `List the events recorded by "run" and "replay" in the journal directory
configured under journal.dir, oldest first.

With --prune, events older than the given age are deleted instead.`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().DurationVar(&flagSince, "since", 0, "only events newer than this age, e.g. 24h")
	eventsCmd.Flags().IntVar(&flagLimit, "limit", 0, "show at most this many of the newest events")
	eventsCmd.Flags().DurationVar(&flagPrune, "prune", 0, "delete events older than this age")
}

func runEvents(cmd *cobra.Command, _ []string) error {
	jc := globalConfig.Journal
	if jc.Dir == "" {
		return errors.New("journal.dir is not configured")
	}
	jc.InMemory = false
	j, err := openJournal(jc, slog.Default())
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	if flagPrune > 0 {
		n, err := j.Prune(ctx, time.Now().Add(-flagPrune))
		if err != nil {
			return err
		}
		cli.PrintSuccess(cmd.ErrOrStderr(), "pruned %d events", n)
		return nil
	}

	opts := journal.ListOptions{Limit: flagLimit}
	if flagSince > 0 {
		opts.Since = time.Now().Add(-flagSince)
	}
	events, err := j.List(ctx, opts)
	if err != nil {
		return err
	}
	if events == nil {
		events = []journal.Event{}
	}
	return output(cmd, eventList(events))
}
