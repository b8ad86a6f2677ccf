package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vsi-examples/vsistream/pkg/capture"
	"github.com/vsi-examples/vsistream/pkg/pixfmt"
	"github.com/vsi-examples/vsistream/pkg/sink"
	"github.com/vsi-examples/vsistream/pkg/stream"
)

// Video defaults.
const (
	DefaultWidth     = 192
	DefaultHeight    = 192
	DefaultFrameRate = 30
	DefaultX         = 10
	DefaultY         = 35
	DefaultBlocks    = 4
)

// VideoOptions configures a VideoApp. Zero values take the defaults.
type VideoOptions struct {
	Width     int
	Height    int
	Format    pixfmt.Format
	FrameRate int

	// Blocks is the number of frames in the capture ring, a power of two.
	Blocks int

	// Source is passed to capture.Video.SetSource. Empty uses the pattern.
	Source string

	// Mode is the capture mode. The zero value captures a single frame.
	Mode stream.Mode

	// X, Y and Scale place frames on the display.
	X, Y  int
	Scale int

	// Output, when set, receives a copy of every frame through the video
	// output interface.
	Output func([]byte) error

	// MaxFrames stops the run after this many frames. Zero runs until the
	// source ends or the context is cancelled.
	MaxFrames int

	// Event waits for driver events instead of polling the status.
	Event bool

	// PollInterval is the status poll period. Default 1ms.
	PollInterval time.Duration

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

func (o *VideoOptions) defaults() {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.FrameRate == 0 {
		o.FrameRate = DefaultFrameRate
	}
	if o.Blocks == 0 {
		o.Blocks = DefaultBlocks
	}
	if o.Source == "" {
		o.Source = capture.SourcePattern
	}
	if o.X == 0 && o.Y == 0 {
		o.X, o.Y = DefaultX, DefaultY
	}
	if o.Scale == 0 {
		o.Scale = 1
	}
	if o.PollInterval == 0 {
		o.PollInterval = time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// VideoApp captures frames and draws them through a sink.
type VideoApp struct {
	opts   VideoOptions
	sink   sink.Sink
	drv    *capture.Video
	notify chan struct{}
}

// NewVideoApp creates a VideoApp writing to s.
func NewVideoApp(s sink.Sink, opts VideoOptions) *VideoApp {
	opts.defaults()
	return &VideoApp{
		opts:   opts,
		sink:   s,
		drv:    capture.NewVideo(capture.VideoOptions{Logger: opts.Logger}),
		notify: make(chan struct{}, 1),
	}
}

// Driver returns the underlying driver.
func (a *VideoApp) Driver() *capture.Video { return a.drv }

func (a *VideoApp) event(ev uint32) {
	if ev&(capture.EventFrame|capture.EventEndOfStream) == 0 {
		return
	}
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Run captures until the source ends, MaxFrames is reached or ctx is
// cancelled. Frames produced before the end of the source are all
// delivered before Run returns.
func (a *VideoApp) Run(ctx context.Context) (*Report, error) {
	o := a.opts
	log := o.Logger
	rep := &Report{Kind: "video", Source: o.Source, Sink: a.sink.Name(), Started: time.Now()}
	defer func() { rep.Duration = time.Since(rep.Started) }()

	if err := a.drv.Initialize(a.event); err != nil {
		return rep, fmt.Errorf("app: video: initialize: %w", err)
	}
	defer a.drv.Uninitialize()

	if c, ok := a.sink.(interface{ Clear(uint16) }); ok {
		c.Clear(0)
	}

	if err := a.drv.ConfigureFormat(capture.In0, o.Width, o.Height, o.Format, o.FrameRate); err != nil {
		return rep, fmt.Errorf("app: video: configure input: %w", err)
	}
	frameSize := a.drv.FrameSize(capture.In0)
	if err := a.drv.SetBuffer(capture.In0, make([]byte, frameSize*o.Blocks), o.Blocks, 0); err != nil {
		return rep, fmt.Errorf("app: video: set input buffer: %w", err)
	}
	if err := a.drv.SetSource(capture.In0, o.Source); err != nil {
		return rep, fmt.Errorf("app: video: set source: %w", err)
	}
	if o.Output != nil {
		if err := a.setupOutput(); err != nil {
			return rep, err
		}
	}
	if err := a.drv.StreamStart(capture.In0, o.Mode); err != nil {
		return rep, fmt.Errorf("app: video: start capture: %w", err)
	}
	defer a.drv.StreamStop(capture.In0)

	var conv []byte
	for o.MaxFrames == 0 || rep.Delivered < uint64(o.MaxFrames) {
		st, err := a.wait(ctx)
		if err != nil {
			a.stats(rep)
			return rep, err
		}
		if st.Empty && st.EndOfStream {
			rep.EndOfStream = true
			break
		}

		frame, err := a.drv.GetFrameBuffer(capture.In0)
		if errors.Is(err, stream.ErrEndOfStream) {
			rep.EndOfStream = true
			break
		}
		if errors.Is(err, stream.ErrNotReady) {
			continue
		}
		if err != nil {
			log.Error("Invalid frame.", "error", err)
			break
		}

		if o.Output != nil {
			if err := a.sendOutput(ctx, frame); err != nil {
				a.drv.ReleaseFrame(capture.In0)
				a.stats(rep)
				return rep, err
			}
		}

		f, buf, err := a.sinkFrame(frame, conv)
		conv = buf
		if err == nil {
			f.Seq = rep.Delivered
			f.Time = time.Now()
			err = a.sink.Write(ctx, f)
		}
		// The frame stays owned by the application until it is drawn.
		a.drv.ReleaseFrame(capture.In0)
		if err != nil {
			a.stats(rep)
			return rep, fmt.Errorf("app: video: sink: %w", err)
		}
		rep.Delivered++
	}

	a.stats(rep)
	log.Info("Video Stream stopped", "frames", rep.Delivered, "overflows", rep.Overflows)
	return rep, nil
}

func (a *VideoApp) stats(rep *Report) {
	if st, err := a.drv.Stats(capture.In0); err == nil {
		rep.addStats(st)
	}
}

// wait blocks until the input has a frame or has ended.
func (a *VideoApp) wait(ctx context.Context) (stream.Status, error) {
	t := time.NewTimer(a.opts.PollInterval)
	defer t.Stop()
	logged := false
	for {
		st, err := a.drv.GetStatus(capture.In0)
		if err != nil {
			return st, fmt.Errorf("app: video: status: %w", err)
		}
		// Overflow stays set until the next release.
		if st.Overflow && !logged {
			a.opts.Logger.Info("Input Overflow")
			logged = true
		}
		if !st.Empty || st.EndOfStream {
			return st, nil
		}
		if !st.Active && st.Empty {
			return st, fmt.Errorf("app: video: capture stopped: %w", stream.ErrState)
		}

		t.Reset(a.opts.PollInterval)
		var notify <-chan struct{}
		if a.opts.Event {
			notify = a.notify
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-notify:
		case <-t.C:
		}
	}
}

func (a *VideoApp) setupOutput() error {
	o := a.opts
	if err := a.drv.ConfigureFormat(capture.Out0, o.Width, o.Height, o.Format, o.FrameRate); err != nil {
		return fmt.Errorf("app: video: configure output: %w", err)
	}
	if err := a.drv.SetOutput(capture.Out0, o.Output); err != nil {
		return fmt.Errorf("app: video: set output: %w", err)
	}
	size := a.drv.FrameSize(capture.Out0)
	if err := a.drv.SetBuffer(capture.Out0, make([]byte, size), 1, 0); err != nil {
		return fmt.Errorf("app: video: set output buffer: %w", err)
	}
	return nil
}

// sendOutput copies frame to the output, starts it and waits until the
// output has taken the frame.
func (a *VideoApp) sendOutput(ctx context.Context, frame []byte) error {
	out, err := a.drv.GetFrameBuffer(capture.Out0)
	if err != nil {
		return fmt.Errorf("app: video: output frame: %w", err)
	}
	copy(out, frame)
	if err := a.drv.ReleaseFrame(capture.Out0); err != nil {
		return fmt.Errorf("app: video: release output: %w", err)
	}
	if err := a.drv.StreamStart(capture.Out0, stream.ModeContinuous); err != nil {
		return fmt.Errorf("app: video: start output: %w", err)
	}
	defer a.drv.StreamStop(capture.Out0)

	t := time.NewTicker(a.opts.PollInterval)
	defer t.Stop()
	for {
		st, err := a.drv.GetStatus(capture.Out0)
		if err != nil {
			return err
		}
		if st.Empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// sinkFrame describes frame for the sink. Formats a display cannot draw
// directly are converted to RGB888 in buf.
func (a *VideoApp) sinkFrame(frame, buf []byte) (sink.Frame, []byte, error) {
	o := a.opts
	f := sink.Frame{Data: frame, Width: o.Width, Height: o.Height, X: o.X, Y: o.Y, Scale: o.Scale}
	if ch := pixfmt.Channels(o.Format); ch > 0 {
		f.Channels = ch
		return f, buf, nil
	}
	img, err := pixfmt.Decode(frame, o.Format, o.Width, o.Height)
	if err != nil {
		return f, buf, err
	}
	size := pixfmt.FrameSize(pixfmt.RGB888, o.Width, o.Height)
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	if err := pixfmt.Encode(buf, img, pixfmt.RGB888, o.Width, o.Height); err != nil {
		return f, buf, err
	}
	f.Data, f.Channels = buf, 3
	return f, buf, nil
}
