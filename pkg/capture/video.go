package capture

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vsi-examples/vsistream/pkg/pixfmt"
	"github.com/vsi-examples/vsistream/pkg/stream"
	"github.com/vsi-examples/vsistream/pkg/vsi"
)

// Video interfaces.
const (
	In0  Interface = 0
	Out0 Interface = 1
)

// Video events.
const (
	EventFrame       uint32 = 1 << 0
	EventOverflow    uint32 = 1 << 1
	EventUnderflow   uint32 = 1 << 2
	EventEndOfStream uint32 = 1 << 3
)

// Video register layout.
const (
	regFrameWidth  = 3
	regFrameHeight = 4
	regColorFormat = 5
	regFrameRate   = 6
	regMode        = 7
	regControl     = 8
)

// SourcePattern selects the generated test pattern as video input. An
// optional ":N" suffix limits it to N frames.
const SourcePattern = "pattern"

// VideoOptions configures a Video driver.
type VideoOptions struct {
	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Video drives a simulated camera input (In0) and video output (Out0).
//
// In0 is fed by a model chosen with SetSource: a PNG, JPEG or BMP still,
// a raw frame file, or the generated pattern. Out0 hands every transmitted
// frame to the function set with SetOutput.
type Video struct {
	base
}

// NewVideo creates an uninitialized video driver.
func NewVideo(opts VideoOptions) *Video {
	v := &Video{}
	v.setup("video", opts.Logger)
	for _, c := range []struct {
		iface  Interface
		name   string
		output bool
	}{
		{In0, "in0", false},
		{Out0, "out0", true},
	} {
		ch := v.addChannel(c.iface, c.name, c.output)
		ch.periph.SetIRQHandler(func() { v.interrupt(ch) })
	}
	return v
}

var _ Driver = (*Video)(nil)

func (v *Video) interrupt(ch *channel) {
	ch.periph.ClearIRQ()
	ev := EventFrame
	st := ch.stream.Status()
	if st.Overflow {
		ev |= EventOverflow
	}
	if ch.output && st.Empty {
		ev |= EventUnderflow
	}
	if st.EndOfStream {
		ev |= EventEndOfStream
	}
	v.emit(ev)
}

// Initialize resets both interfaces and installs the event callback.
func (v *Video) Initialize(cb EventFunc) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initialize(cb)
	v.logger.Debug("capture: video initialized")
	return nil
}

// Uninitialize stops both interfaces and releases their models.
func (v *Video) Uninitialize() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.uninitialize()
}

// Configure sets the frame geometry of an interface: width, height,
// colour format (a pixfmt.Format) and frame rate.
func (v *Video) Configure(iface Interface, width, height, format, frameRate int) error {
	ch, err := v.channel(iface)
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 || frameRate <= 0 || !pixfmt.Format(format).Valid() {
		return fmt.Errorf("capture: video: configure %dx%d format %d rate %d: %w", width, height, format, frameRate, ErrParameter)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if ch.stream.State() == stream.StateStreaming {
		return fmt.Errorf("capture: video: %s is streaming: %w", ch.name, ErrBusy)
	}
	ch.cfg = [4]int{width, height, format, frameRate}
	ch.configured = true
	ch.buffered = false
	ch.periph.WriteReg(regFrameWidth, uint32(width))
	ch.periph.WriteReg(regFrameHeight, uint32(height))
	ch.periph.WriteReg(regColorFormat, uint32(format))
	ch.periph.WriteReg(regFrameRate, uint32(frameRate))
	v.logger.Debug("capture: video configured", "iface", ch.name, "width", width, "height", height, "format", pixfmt.Format(format), "fps", frameRate)
	return nil
}

// ConfigureFormat is Configure with a typed format.
func (v *Video) ConfigureFormat(iface Interface, width, height int, format pixfmt.Format, frameRate int) error {
	return v.Configure(iface, width, height, int(format), frameRate)
}

// FrameSize returns the frame size in bytes of a configured interface.
func (v *Video) FrameSize(iface Interface) int {
	ch, err := v.channel(iface)
	if err != nil {
		return 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return pixfmt.FrameSize(pixfmt.Format(ch.cfg[2]), ch.cfg[0], ch.cfg[1])
}

// SetBuffer binds frame memory to an interface. blockSize must be zero or
// the configured frame size; a zero blockCount uses as many frames as fit,
// rounded down to a power of two.
func (v *Video) SetBuffer(iface Interface, buf []byte, blockCount, blockSize int) error {
	ch, err := v.channel(iface)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !ch.configured {
		return fmt.Errorf("capture: video: %s not configured: %w", ch.name, ErrDriver)
	}
	frame := pixfmt.FrameSize(pixfmt.Format(ch.cfg[2]), ch.cfg[0], ch.cfg[1])
	if blockSize == 0 {
		blockSize = frame
	}
	if blockSize != frame {
		return fmt.Errorf("capture: video: block size %d, frame size %d: %w", blockSize, frame, ErrParameter)
	}
	if blockCount == 0 {
		blockCount = floorPowerOfTwo(len(buf) / frame)
	}
	return v.setBuffer(ch, buf, blockCount, blockSize, ch.cfg[3])
}

// SetSource selects the input of In0 by name: a file path, or "pattern".
// The model is built at the next StreamStart.
func (v *Video) SetSource(iface Interface, name string) error {
	ch, err := v.channel(iface)
	if err != nil {
		return err
	}
	if ch.output {
		return fmt.Errorf("capture: video: %s has no source: %w", ch.name, ErrUnsupported)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if ch.source != name {
		ch.source = name
		ch.periph.SetModel(nil)
	}
	return nil
}

// SetOutput sets the function that receives each frame sent on Out0.
func (v *Video) SetOutput(iface Interface, fn func([]byte) error) error {
	ch, err := v.channel(iface)
	if err != nil {
		return err
	}
	if !ch.output {
		return fmt.Errorf("capture: video: %s is an input: %w", ch.name, ErrUnsupported)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	ch.sink = fn
	return nil
}

// Control is not supported by the video driver.
func (v *Video) Control(uint32) error {
	if !v.initialized.Load() {
		return fmt.Errorf("capture: video: not initialized: %w", ErrDriver)
	}
	return fmt.Errorf("capture: video: control: %w", ErrUnsupported)
}

// StreamStart starts capture (In0) or transmission (Out0).
func (v *Video) StreamStart(iface Interface, mode stream.Mode) error {
	ch, err := v.channel(iface)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !ch.buffered {
		return fmt.Errorf("capture: video: %s has no buffer: %w", ch.name, ErrDriver)
	}
	if err := v.loadModel(ch); err != nil {
		return err
	}
	if err := ch.stream.Start(mode); err != nil {
		return fmt.Errorf("capture: video: %s: %w: %w", ch.name, ErrDriver, err)
	}
	ch.periph.WriteReg(regMode, uint32(mode))
	ch.periph.WriteReg(regControl, 1)
	ch.startDMA(uint32(1000000 / ch.cfg[3]))
	v.logger.Debug("capture: video stream started", "iface", ch.name, "mode", mode)
	return nil
}

// StreamStop stops an interface. The timer is stopped first, so no transfer
// is in progress when the stream is stopped. Already delivered frames stay
// readable.
func (v *Video) StreamStop(iface Interface) error {
	ch, err := v.channel(iface)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	ch.stopDMA()
	ch.periph.WriteReg(regControl, 0)
	ch.stream.Stop()
	return nil
}

func (v *Video) loadModel(ch *channel) error {
	if ch.output {
		fn := ch.sink
		if fn == nil {
			fn = func([]byte) error { return nil }
		}
		ch.periph.SetModel(vsi.NewOutput(fn))
		return nil
	}
	if ch.periph.Model() != nil {
		return nil
	}
	m, err := openVideoSource(ch.source, pixfmt.Format(ch.cfg[2]), ch.cfg[0], ch.cfg[1])
	if err != nil {
		return err
	}
	ch.periph.SetModel(m)
	return nil
}

func openVideoSource(name string, f pixfmt.Format, w, h int) (vsi.Model, error) {
	if name == "" || name == SourcePattern || strings.HasPrefix(name, SourcePattern+":") {
		m, err := vsi.NewPattern(f, w, h)
		if err != nil {
			return nil, fmt.Errorf("capture: video: %w: %w", ErrParameter, err)
		}
		if _, n, ok := strings.Cut(name, ":"); ok {
			frames, err := strconv.Atoi(n)
			if err != nil || frames < 0 {
				return nil, fmt.Errorf("capture: video: pattern frame count %q: %w", n, ErrParameter)
			}
			m.Frames = frames
		}
		return m, nil
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".bmp":
		m, err := vsi.LoadStill(name, f, w, h)
		if err != nil {
			return nil, fmt.Errorf("capture: video: %w: %w", ErrParameter, err)
		}
		return m, nil
	case ".mp4", ".avi", ".mkv", ".mov":
		return nil, fmt.Errorf("capture: video: %s: encoded video: %w", name, ErrUnsupported)
	}
	m, err := vsi.OpenRawFrames(name, pixfmt.FrameSize(f, w, h))
	if err != nil {
		return nil, fmt.Errorf("capture: video: %w: %w", ErrParameter, err)
	}
	return m, nil
}
