package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vsi-examples/vsistream/pkg/stream"
	"github.com/vsi-examples/vsistream/pkg/vsi"
)

// Driver errors. They mirror the status codes of the peripheral drivers.
var (
	ErrDriver      = errors.New("capture: driver error")
	ErrBusy        = errors.New("capture: driver busy")
	ErrTimeout     = errors.New("capture: timeout")
	ErrUnsupported = errors.New("capture: operation not supported")
	ErrParameter   = errors.New("capture: parameter error")
)

// Interface selects one channel of a driver.
type Interface int

// EventFunc receives driver events. It is called from the peripheral's
// timer goroutine and must not block or call driver control functions.
type EventFunc func(event uint32)

// Driver is the contract between an application and a capture or sample
// peripheral.
//
// Configure takes three geometry arguments whose meaning depends on the
// driver (width, height, format for video; channels, sample bits, sample
// rate for sensors) and one extra argument (frame rate for video, unused for
// sensors).
type Driver interface {
	Initialize(cb EventFunc) error
	Configure(iface Interface, a, b, c, extra int) error
	SetBuffer(iface Interface, buf []byte, blockCount, blockSize int) error
	Control(flags uint32) error
	StreamStart(iface Interface, mode stream.Mode) error
	StreamStop(iface Interface) error
	GetStatus(iface Interface) (stream.Status, error)
	GetFrameBuffer(iface Interface) ([]byte, error)
	ReleaseFrame(iface Interface) error
	Uninitialize() error
}

// channel couples one peripheral with the stream it feeds or drains.
type channel struct {
	iface  Interface
	name   string
	output bool
	periph *vsi.Peripheral
	stream *stream.Stream

	// guarded by base.mu
	cfg        [4]int
	configured bool
	buffered   bool
	source     string
	sink       func([]byte) error
}

// base holds what Video and Sensor share. Channels are created once and
// never replaced, so the data-plane calls can look them up without the
// control mutex.
type base struct {
	name   string
	logger *slog.Logger

	mu          sync.Mutex
	initialized atomic.Bool
	cb          atomic.Pointer[EventFunc]
	channels    map[Interface]*channel
}

func (b *base) setup(name string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b.name = name
	b.logger = logger.With("driver", name)
	b.channels = make(map[Interface]*channel)
}

func (b *base) addChannel(iface Interface, name string, output bool) *channel {
	ch := &channel{
		iface:  iface,
		name:   name,
		output: output,
		periph: vsi.New(vsi.Options{Name: b.name + "." + name, Logger: b.logger}),
		stream: stream.New(stream.Options{Name: name, Output: output, Logger: b.logger}),
	}
	b.channels[iface] = ch
	return ch
}

func (b *base) channel(iface Interface) (*channel, error) {
	if !b.initialized.Load() {
		return nil, fmt.Errorf("capture: %s: not initialized: %w", b.name, ErrDriver)
	}
	ch, ok := b.channels[iface]
	if !ok {
		return nil, fmt.Errorf("capture: %s: interface %d: %w", b.name, iface, ErrParameter)
	}
	return ch, nil
}

func (b *base) emit(event uint32) {
	if fn := b.cb.Load(); fn != nil {
		(*fn)(event)
	}
}

func (b *base) initialize(cb EventFunc) {
	if cb != nil {
		b.cb.Store(&cb)
	} else {
		b.cb.Store(nil)
	}
	for _, ch := range b.channels {
		ch.periph.Reset()
		ch.periph.EnableIRQ(true)
	}
	b.initialized.Store(true)
}

func (b *base) uninitialize() error {
	var errs []error
	for _, ch := range b.channels {
		ch.periph.EnableIRQ(false)
		if err := ch.periph.Close(); err != nil {
			errs = append(errs, err)
		}
		ch.stream.Reset()
		ch.configured, ch.buffered = false, false
	}
	b.initialized.Store(false)
	b.cb.Store(nil)
	return errors.Join(errs...)
}

// GetStatus returns the stream status of an interface.
func (b *base) GetStatus(iface Interface) (stream.Status, error) {
	ch, err := b.channel(iface)
	if err != nil {
		return stream.Status{}, err
	}
	return ch.stream.Status(), nil
}

// GetFrameBuffer returns the next frame to read on an input interface, or
// the next frame to fill on an output interface. It returns
// stream.ErrNotReady when no frame is available and stream.ErrEndOfStream
// once an ended input has been drained.
func (b *base) GetFrameBuffer(iface Interface) ([]byte, error) {
	ch, err := b.channel(iface)
	if err != nil {
		return nil, err
	}
	if ch.output {
		blk, ok := ch.stream.BeginBlock()
		if !ok {
			return nil, fmt.Errorf("capture: %s: no free output frame: %w", ch.name, ErrBusy)
		}
		return blk, nil
	}
	blk, err := ch.stream.Acquire()
	if err != nil {
		return nil, fmt.Errorf("capture: %s: %w", ch.name, err)
	}
	return blk, nil
}

// ReleaseFrame hands the frame from GetFrameBuffer back: an input frame
// returns to the free pool, an output frame is queued for transmission.
func (b *base) ReleaseFrame(iface Interface) error {
	ch, err := b.channel(iface)
	if err != nil {
		return err
	}
	if ch.output {
		if !ch.stream.CommitBlock() {
			return fmt.Errorf("capture: %s: output frame discarded: %w", ch.name, ErrDriver)
		}
		return nil
	}
	if err := ch.stream.Release(); err != nil {
		return fmt.Errorf("capture: %s: %w: %w", ch.name, ErrDriver, err)
	}
	return nil
}

// Stream returns the stream of an interface, for consumers that want to
// wait on it directly.
func (b *base) Stream(iface Interface) (*stream.Stream, error) {
	ch, err := b.channel(iface)
	if err != nil {
		return nil, err
	}
	return ch.stream, nil
}

// Stats returns the block counters of an interface.
func (b *base) Stats(iface Interface) (stream.Stats, error) {
	ch, err := b.channel(iface)
	if err != nil {
		return stream.Stats{}, err
	}
	return ch.stream.Stats(), nil
}

// setBuffer binds buf as blockCount blocks of blockSize bytes.
func (b *base) setBuffer(ch *channel, buf []byte, blockCount, blockSize, rate int) error {
	if ch.periph.DMAControl()&vsi.DMAEnable != 0 {
		return fmt.Errorf("capture: %s: set buffer while transferring: %w", ch.name, ErrBusy)
	}
	if len(buf) == 0 || blockSize <= 0 {
		return fmt.Errorf("capture: %s: empty buffer: %w", ch.name, ErrParameter)
	}
	if err := ch.stream.Configure(blockSize, blockCount, rate); err != nil {
		return fmt.Errorf("capture: %s: %w: %w", ch.name, ErrParameter, err)
	}
	if err := ch.stream.SetBuffer(buf); err != nil {
		return fmt.Errorf("capture: %s: %w: %w", ch.name, ErrParameter, err)
	}
	ch.buffered = true
	return nil
}

// startDMA starts the peripheral timer with DMA and IRQ triggering.
func (ch *channel) startDMA(interval uint32) {
	dir := vsi.DMAP2M
	if ch.output {
		dir = vsi.DMAM2P
	}
	ch.periph.SetDMA(vsi.DMAEnable|dir, ch.stream)
	ch.periph.SetTimerInterval(interval)
	ch.periph.SetTimer(vsi.TimerRun | vsi.TimerPeriodic | vsi.TimerTrigDMA | vsi.TimerTrigIRQ)
}

// stopDMA stops the timer, waiting for an in-progress transfer, and then
// disables DMA.
func (ch *channel) stopDMA() {
	ch.periph.SetTimer(0)
	ch.periph.SetDMA(0, nil)
}

// floorPowerOfTwo returns the largest power of two <= n, or 0.
func floorPowerOfTwo(n int) int {
	if n < 1 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}
