package sink

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync"

	"github.com/vsi-examples/vsistream/pkg/buffer"
	"github.com/vsi-examples/vsistream/pkg/pixfmt"
	"github.com/vsi-examples/vsistream/pkg/storage"
)

// Display geometry.
const (
	DisplayWidth  = 320
	DisplayHeight = 240
)

// DisplayOptions configures a Display.
type DisplayOptions struct {
	// TextLines is how many text lines are kept. Default 16.
	TextLines int

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Display emulates a 320x240 RGB565 LCD. Frames are drawn at (X, Y),
// downsampled by Scale. One-channel frames are drawn as grey, three-channel
// frames as RGB.
type Display struct {
	logger *slog.Logger
	text   *buffer.Window[string]

	mu     sync.Mutex
	fb     []uint16
	frames uint64
}

// NewDisplay creates a black display.
func NewDisplay(opts DisplayOptions) *Display {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lines := opts.TextLines
	if lines <= 0 {
		lines = 16
	}
	return &Display{
		logger: logger,
		text:   buffer.NewWindow[string](lines),
		fb:     make([]uint16, DisplayWidth*DisplayHeight),
	}
}

func (d *Display) Name() string { return KindDisplay }

// Write draws f.
func (d *Display) Write(_ context.Context, f Frame) error {
	if f.Channels != 1 && f.Channels != 3 {
		return fmt.Errorf("%w: %d", ErrChannels, f.Channels)
	}
	s := f.scale()
	w, h := f.Width/s, f.Height/s
	if f.X < 0 || f.Y < 0 || f.X+w > DisplayWidth || f.Y+h > DisplayHeight {
		return fmt.Errorf("%w: %dx%d/%d at (%d,%d)", ErrBounds, f.Width, f.Height, s, f.X, f.Y)
	}
	if need := f.Width * f.Height * f.Channels; len(f.Data) < need {
		return fmt.Errorf("%w: %d bytes, need %d", ErrShort, len(f.Data), need)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for dy := range h {
		row := (dy * s) * f.Width
		dst := d.fb[(f.Y+dy)*DisplayWidth+f.X:]
		for dx := range w {
			i := (row + dx*s) * f.Channels
			if f.Channels == 1 {
				dst[dx] = pixfmt.Gray565(f.Data[i])
			} else {
				dst[dx] = pixfmt.RGB565(f.Data[i], f.Data[i+1], f.Data[i+2])
			}
		}
	}
	d.frames++
	return nil
}

// Clear fills the display with an RGB565 colour.
func (d *Display) Clear(c uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.fb {
		d.fb[i] = c
	}
}

// Text adds a line to the text area and logs it.
func (d *Display) Text(line string) {
	d.text.Add(line)
	d.logger.Info("display: " + line)
}

// Lines returns the kept text lines, oldest first.
func (d *Display) Lines() []string { return d.text.Items() }

// Pixel returns the RGB565 value at (x, y).
func (d *Display) Pixel(x, y int) uint16 {
	if x < 0 || y < 0 || x >= DisplayWidth || y >= DisplayHeight {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fb[y*DisplayWidth+x]
}

// Frames returns the number of frames drawn.
func (d *Display) Frames() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Snapshot copies the display into an image.
func (d *Display) Snapshot() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, DisplayWidth, DisplayHeight))
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range d.fb {
		r, g, b := pixfmt.Unpack565(p)
		img.SetRGBA(i%DisplayWidth, i/DisplayWidth, color.RGBA{r, g, b, 0xFF})
	}
	return img
}

// SavePNG writes a snapshot to path in fs.
func (d *Display) SavePNG(ctx context.Context, fs storage.FileStore, path string) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, d.Snapshot()); err != nil {
		return fmt.Errorf("display: encode png: %w", err)
	}
	if err := storage.WriteFile(ctx, fs, path, buf.Bytes()); err != nil {
		return fmt.Errorf("display: save %s: %w", path, err)
	}
	return nil
}

func (d *Display) Close() error { return nil }
