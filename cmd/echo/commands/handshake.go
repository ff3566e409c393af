package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LCH-chanho/ECHO/pkg/cli"
	"github.com/LCH-chanho/ECHO/pkg/seriallink"
)

var (
	flagPort      string
	flagListPorts bool
)

type handshakeResult struct {
	Port  string `json:"port" yaml:"port"`
	Baud  int    `json:"baud" yaml:"baud"`
	State string `json:"state" yaml:"state"`
	Pings int    `json:"pings" yaml:"pings"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

type portList []string

func (p portList) Table() cli.Table {
	t := cli.Table{Headers: []string{"PORT"}}
	for _, name := range p {
		t.Rows = append(t.Rows, []string{name})
	}
	return t
}

var handshakeCmd = &cobra.Command{
	Use:   "handshake",
	Short: "Probe the serial board",
	Long: `Open the serial port, run the ping/pong handshake and send INIT, then
report the resulting state. Exits non-zero when the board does not answer.`,
	Args: cobra.NoArgs,
	RunE: runHandshake,
}

func init() {
	handshakeCmd.Flags().StringVar(&flagPort, "port", "", "serial port (overrides config)")
	handshakeCmd.Flags().BoolVar(&flagListPorts, "list", false, "list serial ports and exit")
}

func runHandshake(cmd *cobra.Command, _ []string) error {
	if flagListPorts {
		ports, err := seriallink.Ports()
		if err != nil {
			return fmt.Errorf("list ports: %w", err)
		}
		return output(cmd, portList(ports))
	}

	lc := globalConfig.Serial.Link()
	if flagPort != "" {
		lc.Port = flagPort
	}
	if err := lc.Validate(); err != nil {
		return fmt.Errorf("serial config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link := seriallink.New(lc, seriallink.WithLogger(slog.Default()))
	defer link.Close()

	connErr := link.Connect(ctx)
	res := handshakeResult{
		Port:  lc.Port,
		Baud:  lc.Baud,
		State: link.State().String(),
		Pings: link.Sent(seriallink.Ping),
	}
	if connErr != nil {
		res.Error = connErr.Error()
	}
	if err := output(cmd, res); err != nil {
		return err
	}
	if connErr != nil {
		return connErr
	}
	cli.PrintSuccess(cmd.ErrOrStderr(), "peer ready on %s", lc.Port)
	return nil
}
