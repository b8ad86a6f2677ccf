package commands

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsi-examples/vsistream/cmd/vsistream/internal/config"
	"github.com/vsi-examples/vsistream/pkg/app"
	"github.com/vsi-examples/vsistream/pkg/cli"
	"github.com/vsi-examples/vsistream/pkg/pixfmt"
	"github.com/vsi-examples/vsistream/pkg/sink"
	"github.com/vsi-examples/vsistream/pkg/storage"
	"github.com/vsi-examples/vsistream/pkg/stream"
)

// defaultOutputPath is the object that receives the video output frames.
const defaultOutputPath = "output.raw"

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Virtual camera streaming",
}

var (
	videoFile      string
	videoFlags     config.Video
	videoSink      sinkFlags
	videoTimeout   time.Duration
	videoNoHistory bool
)

var videoRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture frames and draw them through a sink",
	Long: `Capture frames from the virtual camera and draw them through a sink until
the source ends, --frames is reached or the command is interrupted.

Sources:
  pattern        colour bars with a moving marker (default)
  pattern:N      the same, ending after N frames
  FILE.png|jpg|bmp  a still image, scaled to the frame size
  FILE           raw frames in the configured colour format

Settings come from config.yaml, then the profile given with -f, then flags.

Examples:
  vsistream video run --source pattern:90
  vsistream video run --source camera.bmp --mode single --snapshot camera.png
  vsistream video run --source clip.raw --passthrough --output-path clip-out.raw
  vsistream video run -f profile.yaml --sink file --location s3://bucket/runs`,
	RunE: runVideo,
}

func init() {
	f := videoRunCmd.Flags()
	f.StringVarP(&videoFile, "file", "f", "", "run profile (YAML or JSON, - for stdin)")
	f.IntVar(&videoFlags.Width, "width", app.DefaultWidth, "frame width")
	f.IntVar(&videoFlags.Height, "height", app.DefaultHeight, "frame height")
	f.StringVar(&videoFlags.Color, "color", "rgb888", "colour format: gray8, rgb888, bgr565, yuv420, nv12")
	f.IntVar(&videoFlags.FPS, "fps", app.DefaultFrameRate, "frame rate")
	f.StringVar(&videoFlags.Source, "source", "", "video source")
	f.StringVar(&videoFlags.Mode, "mode", "continuous", "capture mode: single, continuous")
	f.IntVar(&videoFlags.Blocks, "blocks", app.DefaultBlocks, "frames in the capture ring (power of two)")
	f.IntVar(&videoFlags.X, "x", app.DefaultX, "display x")
	f.IntVar(&videoFlags.Y, "y", app.DefaultY, "display y")
	f.IntVar(&videoFlags.Scale, "scale", 1, "display downscale factor")
	f.IntVar(&videoFlags.Frames, "frames", 0, "stop after this many frames (0: until the source ends)")
	f.BoolVar(&videoFlags.Event, "event", false, "wait for driver events instead of polling")
	f.BoolVar(&videoFlags.Passthrough, "passthrough", false, "send every frame to the video output")
	f.StringVar(&videoFlags.Output, "output-path", defaultOutputPath, "object in the sink location that records the video output")
	f.DurationVar(&videoTimeout, "timeout", 0, "stop after this long")
	f.BoolVar(&videoNoHistory, "no-history", false, "do not record the run")
	f.StringVar(&videoSink.snapshot, "snapshot", "", "save the display as PNG to this path in the sink location")
	videoSink.register(videoRunCmd, "display")

	videoCmd.AddCommand(videoRunCmd)
	rootCmd.AddCommand(videoCmd)
}

// resolveVideo merges the configured settings, the profile and changed
// flags.
func resolveVideo(cmd *cobra.Command, cfg *config.Config) (config.Video, error) {
	v := cfg.Video
	if videoFile != "" {
		if err := cli.LoadProfile(videoFile, &v); err != nil {
			return v, err
		}
	}
	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	set("width", func() { v.Width = videoFlags.Width })
	set("height", func() { v.Height = videoFlags.Height })
	set("color", func() { v.Color = videoFlags.Color })
	set("fps", func() { v.FPS = videoFlags.FPS })
	set("source", func() { v.Source = videoFlags.Source })
	set("mode", func() { v.Mode = videoFlags.Mode })
	set("blocks", func() { v.Blocks = videoFlags.Blocks })
	set("x", func() { v.X = videoFlags.X })
	set("y", func() { v.Y = videoFlags.Y })
	set("scale", func() { v.Scale = videoFlags.Scale })
	set("frames", func() { v.Frames = videoFlags.Frames })
	set("event", func() { v.Event = videoFlags.Event })
	set("passthrough", func() { v.Passthrough = videoFlags.Passthrough })
	set("output-path", func() { v.Output = videoFlags.Output })
	if v.Output == "" {
		v.Output = defaultOutputPath
	}
	return v, nil
}

func runVideo(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	v, err := resolveVideo(cmd, cfg)
	if err != nil {
		return err
	}
	format, err := pixfmt.ParseFormat(v.Color)
	if err != nil {
		return err
	}
	mode, err := stream.ParseMode(v.Mode)
	if err != nil {
		return err
	}
	loc := videoSink.resolve(cmd, cfg, v.Sink)

	log, lw := runLogger()
	out, err := openSink(loc, log)
	if err != nil {
		return err
	}
	defer out.Close()

	opts := app.VideoOptions{
		Width:     v.Width,
		Height:    v.Height,
		Format:    format,
		FrameRate: v.FPS,
		Blocks:    v.Blocks,
		Source:    v.Source,
		Mode:      mode,
		X:         v.X,
		Y:         v.Y,
		Scale:     v.Scale,
		MaxFrames: v.Frames,
		Event:     v.Event,
		Logger:    log,
	}
	ctx, cancel := runContext(cmd, videoTimeout)
	defer cancel()

	var (
		sent atomic.Uint64
		rec  *sink.FileWriter
	)
	if v.Passthrough {
		rec, err = openOutput(loc, v.Output)
		if err != nil {
			return err
		}
		opts.Output = func(p []byte) error {
			seq := sent.Add(1) - 1
			return rec.Write(ctx, sink.Frame{Data: p, Seq: seq, Time: time.Now()})
		}
	}

	rep, runErr := app.NewVideoApp(out, opts).Run(ctx)
	if rec != nil {
		if err := rec.Close(); err != nil && runErr == nil {
			runErr = fmt.Errorf("video output: %w", err)
		}
	}
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		// Interrupt and --timeout end the run normally.
		runErr = nil
	}
	if runErr == nil && videoSink.snapshot != "" {
		if err := saveSnapshot(cmd.Context(), out, loc, videoSink.snapshot); err != nil {
			runErr = fmt.Errorf("snapshot: %w", err)
		}
	}

	settings := map[string]string{
		"size":  fmt.Sprintf("%dx%d", v.Width, v.Height),
		"color": format.String(),
		"fps":   strconv.Itoa(v.FPS),
		"mode":  mode.String(),
	}
	var extra []string
	if v.Passthrough {
		settings["passthrough"] = "true"
		extra = append(extra, fmt.Sprintf("output     %d to %s", sent.Load(), v.Output))
	}
	if videoSink.snapshot != "" && runErr == nil {
		extra = append(extra, "snapshot   "+videoSink.snapshot)
	}
	return finishRun(cmd, videoNoHistory, rep, settings, extra, lw, runErr)
}

// openOutput returns the recorder of the video output: raw frames appended
// to path in the sink location.
func openOutput(loc config.Sink, path string) (*sink.FileWriter, error) {
	fs, err := storage.Open(loc.Location)
	if err != nil {
		return nil, fmt.Errorf("video output: %w", err)
	}
	return sink.NewFileWriter(sink.FileOptions{Store: fs, Path: path}), nil
}
