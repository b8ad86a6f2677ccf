package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsi-examples/vsistream/cmd/vsistream/internal/config"
	"github.com/vsi-examples/vsistream/pkg/app"
	"github.com/vsi-examples/vsistream/pkg/cli"
	"github.com/vsi-examples/vsistream/pkg/sink"
	"github.com/vsi-examples/vsistream/pkg/storage"
)

// reportWidth is the width of the run report frame.
const reportWidth = 64

// logLines is the number of captured log lines shown in the run report.
const logLines = 8

// sinkFlags are the sink flags shared by the run commands.
type sinkFlags struct {
	kind     string
	location string
	path     string
	perFrame bool
	addr     string
	snapshot string
}

func (f *sinkFlags) register(cmd *cobra.Command, defaultKind string) {
	cmd.Flags().StringVar(&f.kind, "sink", defaultKind, "sink kinds, comma separated: display, file, log, null, ws")
	cmd.Flags().StringVar(&f.location, "location", "", "storage location of the file sink: a directory, file:// or s3://bucket/prefix")
	cmd.Flags().StringVar(&f.path, "path", "", "object written by the file sink (a %d pattern with --per-frame)")
	cmd.Flags().BoolVar(&f.perFrame, "per-frame", false, "write one object per frame")
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address of the ws sink")
}

// resolve merges the configured sink, the profile sink and changed flags.
func (f *sinkFlags) resolve(cmd *cobra.Command, cfg *config.Config, profile *config.Sink) config.Sink {
	s := cfg.Sink
	if profile != nil {
		s = *profile
	}
	fl := cmd.Flags()
	if fl.Changed("sink") || s.Kind == "" {
		s.Kind = f.kind
	}
	if fl.Changed("location") {
		s.Location = f.location
	}
	if fl.Changed("path") {
		s.Path = f.path
	}
	if fl.Changed("per-frame") {
		s.PerFrame = f.perFrame
	}
	if fl.Changed("addr") {
		s.Addr = f.addr
	}
	if s.Location == "" {
		s.Location = cfg.Paths().OutputDir()
	}
	return s
}

func openSink(s config.Sink, log *slog.Logger) (sink.Sink, error) {
	out, err := sink.Open(sink.Options{
		Kind:     s.Kind,
		Location: s.Location,
		Path:     s.Path,
		PerFrame: s.PerFrame,
		Addr:     s.Addr,
		Level:    slog.LevelInfo,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	if ws := findSink[*sink.WebSocket](out); ws != nil {
		log.Info("viewer listening", "url", "ws://"+ws.Addr()+sink.WebSocketPath)
	}
	return out, nil
}

// findSink returns the first sink of type T in s, looking into Multi.
func findSink[T sink.Sink](s sink.Sink) T {
	var zero T
	if m, ok := s.(*sink.Multi); ok {
		for _, sub := range m.Sinks() {
			if t, ok := sub.(T); ok {
				return t
			}
		}
		return zero
	}
	if t, ok := s.(T); ok {
		return t
	}
	return zero
}

// saveSnapshot writes the display of s as a PNG into the sink location.
func saveSnapshot(ctx context.Context, s sink.Sink, loc config.Sink, name string) error {
	d := findSink[*sink.Display](s)
	if d == nil {
		return fmt.Errorf("--snapshot needs the display sink")
	}
	fs, err := storage.Open(loc.Location)
	if err != nil {
		return err
	}
	return d.SavePNG(ctx, fs, name)
}

// runContext returns the context of a run: cancelled on interrupt and after
// timeout if positive.
func runContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// runLogger returns the logger for the applications. With table output the
// log is captured for the report instead of written to stderr.
func runLogger() (*slog.Logger, *cli.LogWriter) {
	if formatOutput != string(cli.FormatTable) || IsVerbose() {
		return logger, nil
	}
	lw := cli.NewLogWriter(logLines)
	h := slog.NewTextHandler(lw, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(h), lw
}

// runReport is what a run command prints.
type runReport struct {
	ID     string      `json:"id" yaml:"id"`
	Report *app.Report `json:"report" yaml:"report"`
	Error  string      `json:"error,omitempty" yaml:"error,omitempty"`

	extra []string
	log   *cli.LogWriter
}

func (r *runReport) frame() cli.Frame {
	rep := r.Report
	timing := []string{
		fmt.Sprintf("duration   %s", cli.FormatDuration(rep.Duration)),
		fmt.Sprintf("rate       %s", cli.FormatRate(rep.Delivered, rep.Duration)),
	}
	f := cli.Frame{
		Styles: cli.NewStyles(cli.DefaultTheme),
		Title:  "vsistream " + rep.Kind,
		Status: rep.Status(),
		Alert:  r.Error != "" || rep.Overflows > 0,
		Sections: []cli.Section{
			{Label: "Stream", Lines: append(rep.Lines(), r.extra...)},
			{Label: "Timing", Lines: timing},
		},
	}
	if r.Error != "" {
		f.Status = "failed"
		f.Sections = append(f.Sections, cli.Section{Label: "Error", Lines: []string{r.Error}})
	}
	if r.log != nil {
		if lines := r.log.Lines(); len(lines) > 0 {
			f.Sections = append(f.Sections, cli.Section{Label: "Log", Lines: lines})
		}
	}
	if r.ID != "" {
		f.Footer = "run " + r.ID
	}
	return f
}

// printRun prints a finished run in the selected output format.
func printRun(r *runReport) error {
	opts, err := outputOptions()
	if err != nil {
		return err
	}
	if opts.Format != cli.FormatTable {
		return cli.Output(r, opts)
	}
	var w io.Writer = os.Stdout
	if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	_, err = fmt.Fprintln(w, r.frame().Render(reportWidth, logLines))
	return err
}

// finishRun saves and prints a run and returns the run error.
func finishRun(cmd *cobra.Command, noHistory bool, rep *app.Report, settings map[string]string, extra []string, lw *cli.LogWriter, runErr error) error {
	rec := newRecord(rep, settings, runErr)
	saveRun(cmd.Context(), noHistory, rec)
	out := &runReport{ID: rec.ID, Report: rep, extra: extra, log: lw}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	if err := printRun(out); err != nil {
		return err
	}
	return runErr
}

