// Package cli provides output helpers for the echo command.
//
// Results are printed as YAML (the default), JSON, or a styled table:
//
//	cli.Output(devices, cli.OutputOptions{Format: cli.FormatJSON})
//
// Summary renders the boxed report printed at the end of a run.
package cli
