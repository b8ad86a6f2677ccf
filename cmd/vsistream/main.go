// Package main is the entry point for the vsistream CLI.
//
// Usage:
//
//	vsistream [flags] <command> [subcommand] [args]
//
// Commands:
//
//	video      - Capture frames from the virtual camera (run)
//	sensor     - Fetch samples from the virtual sensor (run)
//	runs       - Run history (list, get, delete, prune)
//	config     - Configuration file (init, view, path)
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/vsi-examples/vsistream/cmd/vsistream/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
