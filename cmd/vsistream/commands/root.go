package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vsi-examples/vsistream/cmd/vsistream/internal/config"
	"github.com/vsi-examples/vsistream/pkg/cli"
)

var (
	// Global flags
	verbose      bool
	formatOutput string
	outputFile   string

	// Global configuration (loaded at init time)
	globalConfig *config.Config

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "vsistream",
	Short: "Stream frames and samples from virtual streaming peripherals",
	Long: `vsistream - Run the video and sensor streaming applications on simulated
virtual streaming interfaces.

The video application captures frames from a virtual camera (a generated
pattern, a still image or a raw frame file) and draws them on an emulated
320x240 display, a file, a WebSocket viewer or the log. The sensor
application fetches blocks of integer samples from a data file.

Configuration is stored in the OS config directory:
  macOS:   ~/Library/Application Support/vsistream/
  Linux:   ~/.config/vsistream/
  Windows: %AppData%/vsistream/
Set VSISTREAM_CONFIG_DIR to use another directory.

Examples:
  vsistream video run --source pattern:90 --sink display --snapshot last.png
  vsistream video run --source camera.bmp --mode single
  vsistream sensor run --source intdata.txt --count 10 --gated
  vsistream runs list`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if cfg, err := GetConfig(); err == nil {
			if l, ok := parseLevel(cfg.LogLevel); ok {
				level = l
			}
		}
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&formatOutput, "format", "table", "output format: table, yaml, json")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write the result to a file")
}

// configLoadErr stores the error from config.Load() for deferred reporting.
var configLoadErr error

func initConfig() {
	globalConfig, configLoadErr = nil, nil
	cfg, err := config.Load()
	if err != nil {
		// Commands that need the config report it through GetConfig, so
		// 'vsistream version' still works with a broken file.
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// outputOptions returns the result options from the global flags.
func outputOptions() (cli.OutputOptions, error) {
	f, err := cli.ParseOutputFormat(formatOutput)
	if err != nil {
		return cli.OutputOptions{}, err
	}
	opts := cli.OutputOptions{Format: f, File: outputFile}
	if outputFile == "" {
		opts.Writer = os.Stdout
	}
	return opts, nil
}

// printResult writes result in the selected output format.
func printResult(result any) error {
	opts, err := outputOptions()
	if err != nil {
		return err
	}
	return cli.Output(result, opts)
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
