package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsi-examples/vsistream/cmd/vsistream/internal/config"
	"github.com/vsi-examples/vsistream/pkg/app"
	"github.com/vsi-examples/vsistream/pkg/cli"
)

var sensorCmd = &cobra.Command{
	Use:   "sensor",
	Short: "Virtual sensor sampling",
}

var (
	sensorFile      string
	sensorFlags     config.Sensor
	sensorSink      sinkFlags
	sensorTimeout   time.Duration
	sensorNoHistory bool
)

var sensorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch sample blocks and forward them to a sink",
	Long: `Fetch blocks of samples from the virtual sensor receiver. The source is a
text file of integers, one block per line, read in a loop.

The first block after enabling the receiver only primes it and is
skipped. With --gated the receiver is paused between fetches.

Examples:
  vsistream sensor run --source intdata.txt --count 10
  vsistream sensor run --gated --event --sink log,file --path samples.raw`,
	RunE: runSensor,
}

func init() {
	f := sensorRunCmd.Flags()
	f.StringVarP(&sensorFile, "file", "f", "", "run profile (YAML or JSON, - for stdin)")
	f.StringVar(&sensorFlags.Source, "source", "", "integer data file")
	f.IntVar(&sensorFlags.Channels, "channels", 1, "channels per sample (1..32)")
	f.IntVar(&sensorFlags.Bits, "bits", 8, "bits per sample (8..32)")
	f.IntVar(&sensorFlags.Rate, "rate", app.DefaultSampleRate, "sample rate (samples per second)")
	f.IntVar(&sensorFlags.Samples, "samples", app.DefaultNumSamples, "samples per block")
	f.IntVar(&sensorFlags.Blocks, "blocks", app.DefaultSensorBlocks, "blocks in the receive ring (power of two)")
	f.BoolVar(&sensorFlags.Gated, "gated", false, "pause the receiver between fetches")
	f.BoolVar(&sensorFlags.Event, "event", false, "wait for driver events instead of polling")
	f.IntVar(&sensorFlags.Count, "count", 0, "stop after this many blocks (0: until interrupted)")
	f.DurationVar(&sensorTimeout, "timeout", 0, "stop after this long")
	f.BoolVar(&sensorNoHistory, "no-history", false, "do not record the run")
	sensorSink.register(sensorRunCmd, "log")

	sensorCmd.AddCommand(sensorRunCmd)
	rootCmd.AddCommand(sensorCmd)
}

func resolveSensor(cmd *cobra.Command, cfg *config.Config) (config.Sensor, error) {
	s := cfg.Sensor
	if sensorFile != "" {
		if err := cli.LoadProfile(sensorFile, &s); err != nil {
			return s, err
		}
	}
	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	set("source", func() { s.Source = sensorFlags.Source })
	set("channels", func() { s.Channels = sensorFlags.Channels })
	set("bits", func() { s.Bits = sensorFlags.Bits })
	set("rate", func() { s.Rate = sensorFlags.Rate })
	set("samples", func() { s.Samples = sensorFlags.Samples })
	set("blocks", func() { s.Blocks = sensorFlags.Blocks })
	set("gated", func() { s.Gated = sensorFlags.Gated })
	set("event", func() { s.Event = sensorFlags.Event })
	set("count", func() { s.Count = sensorFlags.Count })
	return s, nil
}

func runSensor(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	s, err := resolveSensor(cmd, cfg)
	if err != nil {
		return err
	}
	if s.Count == 0 && sensorTimeout == 0 {
		logger.Info("sampling until interrupted")
	}
	loc := sensorSink.resolve(cmd, cfg, s.Sink)
	// The sensor sink defaults to the log, not the configured video sink.
	if s.Sink == nil && !cmd.Flags().Changed("sink") {
		loc.Kind = sensorSink.kind
	}

	log, lw := runLogger()
	out, err := openSink(loc, log)
	if err != nil {
		return err
	}
	defer out.Close()

	ctx, cancel := runContext(cmd, sensorTimeout)
	defer cancel()
	a := app.NewSensorApp(out, app.SensorOptions{
		Source:     s.Source,
		Channels:   s.Channels,
		SampleBits: s.Bits,
		SampleRate: s.Rate,
		NumSamples: s.Samples,
		Blocks:     s.Blocks,
		Gated:      s.Gated,
		Event:      s.Event,
		MaxBlocks:  s.Count,
		Logger:     log,
	})
	rep, runErr := a.Run(ctx)

	settings := map[string]string{
		"channels": strconv.Itoa(s.Channels),
		"bits":     strconv.Itoa(s.Bits),
		"rate":     strconv.Itoa(s.Rate),
		"samples":  strconv.Itoa(s.Samples),
		"gated":    strconv.FormatBool(s.Gated),
	}
	extra := []string{fmt.Sprintf("bytes      %s", cli.FormatBytes(int64(a.Provider().Total())))}
	return finishRun(cmd, sensorNoHistory, rep, settings, extra, lw, runErr)
}
