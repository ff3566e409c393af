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

	"github.com/LCH-chanho/ECHO/pkg/audio/portaudio"
	"github.com/LCH-chanho/ECHO/pkg/cli"
)

var (
	flagDevice   string
	flagNoSerial bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect sounds from the live input device",
	Long: `Capture audio from the configured input device and classify it until
interrupted with Ctrl+C or SIGTERM.

The serial board is opened first; if it does not answer the handshake the
detector keeps running and only logs confirmed events.`,
	Args: cobra.NoArgs,
	RunE: runLive,
}

func init() {
	runCmd.Flags().StringVar(&flagDevice, "device", "", "input device index or name (overrides config)")
	runCmd.Flags().BoolVar(&flagNoSerial, "no-serial", false, "do not open the serial port")
}

func runLive(cmd *cobra.Command, _ []string) error {
	cfg := globalConfig
	if flagDevice != "" {
		cfg.Capture.Device = flagDevice
	}
	if flagNoSerial {
		cfg.Serial.Enabled = false
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(cfg, cfg.Capture.SampleRate, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	link := eng.connect(ctx)
	if err := ctx.Err(); err != nil {
		if link != nil {
			link.Close()
		}
		return nil
	}

	stream, err := portaudio.OpenInput(cfg.Capture.Stream(), eng.segments, logger)
	if err != nil {
		if link != nil {
			link.Close()
		}
		return fmt.Errorf("start capture: %w", err)
	}
	defer stream.Close()
	if link != nil {
		defer link.Close()
	}

	ctrl, err := eng.controller(link)
	if err != nil {
		return err
	}
	eng.serveMetrics(ctx)

	cli.PrintSuccess(cmd.ErrOrStderr(), "listening, press Ctrl+C to stop")
	start := time.Now()
	err = ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	extra := []cli.Field{
		{Label: "overflows", Value: fmt.Sprint(stream.Overflows())},
		{Label: "rejected", Value: fmt.Sprint(stream.Rejected())},
	}
	if link != nil {
		extra = append(extra, cli.Field{Label: "serial", Value: link.State().String()})
	}
	fmt.Fprintln(cmd.ErrOrStderr(), statsSummary("echo run", "stopped", ctrl.Stats(), time.Since(start), extra...).Render(cli.DefaultStyles))
	return err
}
