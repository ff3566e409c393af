package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/LCH-chanho/ECHO/pkg/cli"
	"github.com/LCH-chanho/ECHO/pkg/config"
)

var (
	cfgFile      string
	logLevel     string
	outputFormat string

	// appFs is the filesystem for config, models and recordings.
	appFs = afero.NewOsFs()

	globalConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "echo",
	Short: "Emergency sound detector",
	Long: `echo classifies live audio into Horn, Siren and None and, when a class
is confirmed on two consecutive segments, sends the matching command to a
board on a serial port.

Without --config the built-in defaults are used: 48 kHz stereo capture,
0.6 s segments, a 64x60 gammatone front end and /dev/ttyUSB0 at 9600 baud.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Command returns the root cobra command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml, json, table")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(handshakeCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(appFs, cfgFile)
		if err != nil {
			return err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	globalConfig = cfg
	return nil
}

func newLogger(w io.Writer, c config.LogConfig) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("log config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func output(cmd *cobra.Command, result any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		Writer: cmd.OutOrStdout(),
	})
}

// configCmd prints the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if outputFormat == string(cli.FormatJSON) {
			return output(cmd, globalConfig)
		}
		data, err := globalConfig.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
