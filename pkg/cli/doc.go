// Package cli holds the terminal side of the vsistream commands: result
// output as YAML, JSON or a table, human-readable sizes and durations, the
// boxed run report, log capture for that report, run profile loading and
// the on-disk locations of configuration and run history.
//
// Example:
//
//	cli.Output(report, cli.OutputOptions{Format: cli.FormatJSON})
package cli
