package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LCH-chanho/ECHO/pkg/audio/capture"
	"github.com/LCH-chanho/ECHO/pkg/cli"
	"github.com/LCH-chanho/ECHO/pkg/seriallink"
)

var (
	flagRealtime     bool
	flagChannel      int
	flagGain         float64
	flagReplaySerial bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.wav>",
	Short: "Run the detector on a WAV recording",
	Long: `Feed a PCM WAV recording through the same pipeline as "run" and print
the counters at the end. The file is resampled from its own rate, so any
rate works.

By default the file is pushed as fast as the pipeline drains it; use
--realtime to pace it like a live device. The serial board is only used
with --serial.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&flagRealtime, "realtime", false, "pace input at the recording's sample rate")
	replayCmd.Flags().IntVar(&flagChannel, "channel", 0, "channel to read")
	replayCmd.Flags().Float64Var(&flagGain, "gain", 1.0, "gain applied after normalization")
	replayCmd.Flags().BoolVar(&flagReplaySerial, "serial", false, "dispatch confirmed events to the serial board")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	logger := slog.Default()

	rec, err := capture.ReadWAV(appFs, args[0], flagChannel, flagGain)
	if err != nil {
		return err
	}
	logger.Info("recording loaded",
		"file", args[0],
		"rate", rec.SampleRate,
		"channels", rec.Channels,
		"bits", rec.BitDepth,
		"seconds", rec.Duration(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(cfg, rec.SampleRate, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	var link *seriallink.Link
	if flagReplaySerial {
		link = eng.connect(ctx)
		if link != nil {
			defer link.Close()
		}
	}

	ctrl, err := eng.controller(link)
	if err != nil {
		return err
	}
	eng.serveMetrics(ctx)

	feedErr := make(chan error, 1)
	go func() {
		err := capture.Replay(ctx, eng.segments, rec.Samples, rec.SampleRate, capture.ReplayOptions{
			Realtime: flagRealtime,
		})
		eng.segments.Close()
		feedErr <- err
	}()

	start := time.Now()
	err = ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if ferr := <-feedErr; ferr != nil && !errors.Is(ferr, context.Canceled) {
		err = errors.Join(err, ferr)
	}

	status := "done"
	if ctx.Err() != nil {
		status = "interrupted"
	}
	leftover := eng.segments.Len()
	summary := statsSummary("echo replay", status, ctrl.Stats(), time.Since(start),
		cli.Field{Label: "audio", Value: fmt.Sprintf("%.2fs", rec.Duration())},
		cli.Field{Label: "tail", Value: fmt.Sprintf("%d samples", leftover)},
	)
	fmt.Fprintln(cmd.OutOrStdout(), summary.Render(cli.DefaultStyles))
	return err
}
