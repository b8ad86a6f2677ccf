package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vsi-examples/vsistream/pkg/capture"
	"github.com/vsi-examples/vsistream/pkg/sink"
	"github.com/vsi-examples/vsistream/pkg/stream"
)

// Sensor defaults.
const (
	DefaultSampleRate   = 100
	DefaultNumSamples   = 4
	DefaultSensorPoll   = 10 * time.Millisecond
	DefaultSensorBlocks = 4
)

// SensorOptions configures a SensorProvider and a SensorApp. Zero values
// take the defaults.
type SensorOptions struct {
	// Source is the integer data file read by the receiver.
	Source string

	Channels   int
	SampleBits int
	SampleRate int

	// NumSamples is the number of sample frames returned per fetch. It
	// sets the block size.
	NumSamples int

	// Blocks is the number of blocks in the receive ring, a power of two.
	Blocks int

	// Gated pauses the receiver between fetches.
	Gated bool

	// Event waits for driver events instead of polling.
	Event bool

	// PollInterval is the wait period between data position checks.
	PollInterval time.Duration

	// MaxBlocks stops SensorApp after this many blocks. Zero runs until the
	// context is cancelled.
	MaxBlocks int

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

func (o *SensorOptions) defaults() {
	if o.Source == "" {
		o.Source = capture.DefaultSensorSource
	}
	if o.Channels == 0 {
		o.Channels = 1
	}
	if o.SampleBits == 0 {
		o.SampleBits = 8
	}
	if o.SampleRate == 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.NumSamples == 0 {
		o.NumSamples = DefaultNumSamples
	}
	if o.Blocks == 0 {
		o.Blocks = DefaultSensorBlocks
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultSensorPoll
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// SensorProvider hands out sensor samples one block at a time.
//
// The first call to Samples sets the receiver up and returns no data. The
// first block the receiver delivers only primes it and is not counted.
// Every later call waits until a new block has arrived and returns the
// newest one.
type SensorProvider struct {
	opts      SensorOptions
	drv       *capture.Sensor
	blockSize int
	notify    chan struct{}

	primed  atomic.Bool
	current atomic.Uint64

	started  bool
	previous uint64
	block    []byte
}

// NewSensorProvider creates a provider. The driver is not touched until
// the first call to Samples.
func NewSensorProvider(opts SensorOptions) *SensorProvider {
	opts.defaults()
	return &SensorProvider{
		opts:   opts,
		drv:    capture.NewSensor(capture.SensorOptions{Logger: opts.Logger}),
		notify: make(chan struct{}, 1),
	}
}

// Driver returns the underlying driver.
func (p *SensorProvider) Driver() *capture.Sensor { return p.drv }

// BlockSize returns the size in bytes of one fetch. It is zero before the
// first call to Samples.
func (p *SensorProvider) BlockSize() int { return p.blockSize }

// Total returns the number of bytes received so far, excluding the
// priming block.
func (p *SensorProvider) Total() uint64 { return p.current.Load() }

func (p *SensorProvider) event(ev uint32) {
	if !p.primed.Load() {
		p.primed.Store(true)
		return
	}
	if ev&capture.EventRxData != 0 {
		p.current.Add(uint64(p.blockSize))
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
}

func (p *SensorProvider) setup() error {
	o := p.opts
	if err := p.drv.Initialize(p.event); err != nil {
		return err
	}
	if err := p.drv.Configure(capture.RX, o.Channels, o.SampleBits, o.SampleRate, 0); err != nil {
		return err
	}
	p.blockSize = o.NumSamples * p.drv.SampleSize(capture.RX)
	if err := p.drv.SetBuffer(capture.RX, make([]byte, p.blockSize*o.Blocks), o.Blocks, p.blockSize); err != nil {
		return err
	}
	if err := p.drv.SetSource(capture.RX, o.Source); err != nil {
		return err
	}
	if err := p.drv.Control(capture.ControlRxEnable); err != nil {
		return err
	}
	if o.Gated {
		if err := p.drv.Control(capture.ControlRxPause); err != nil {
			return err
		}
	}
	return nil
}

// Samples copies the newest block into dst and returns the number of
// bytes copied. The first call sets the receiver up and returns 0. A data
// event that left no block behind is logged and also returns 0.
func (p *SensorProvider) Samples(ctx context.Context, dst []byte) (int, error) {
	if !p.started {
		if err := p.setup(); err != nil {
			p.drv.Uninitialize()
			return 0, fmt.Errorf("app: sensor: setup: %w", err)
		}
		p.started = true
		p.opts.Logger.Debug("app: sensor receiver ready", "block_size", p.blockSize, "gated", p.opts.Gated)
		return 0, nil
	}

	if p.opts.Gated {
		if err := p.drv.Control(capture.ControlRxResume); err != nil {
			return 0, fmt.Errorf("app: sensor: resume: %w", err)
		}
	}
	err := p.wait(ctx)
	if p.opts.Gated {
		if perr := p.drv.Control(capture.ControlRxPause); perr != nil && err == nil {
			err = fmt.Errorf("app: sensor: pause: %w", perr)
		}
	}
	if err != nil {
		return 0, err
	}
	p.previous = p.current.Load()

	got, err := p.drain()
	if err != nil {
		return 0, err
	}
	if !got {
		// The event counts blocks the receiver dropped while its slot
		// was held, so a data event does not always leave one behind.
		p.opts.Logger.Warn("Sensor: no block after data event", "position", p.previous)
		return 0, nil
	}
	return copy(dst, p.block), nil
}

// wait blocks until the data position moves past the previous fetch.
func (p *SensorProvider) wait(ctx context.Context) error {
	t := time.NewTimer(p.opts.PollInterval)
	defer t.Stop()
	for p.current.Load() <= p.previous {
		t.Reset(p.opts.PollInterval)
		var notify <-chan struct{}
		if p.opts.Event {
			notify = p.notify
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		case <-t.C:
		}
	}
	return nil
}

// drain acquires every ready block and keeps a copy of the last one.
// It reports whether any block was ready.
func (p *SensorProvider) drain() (bool, error) {
	got := false
	for {
		blk, err := p.drv.GetFrameBuffer(capture.RX)
		if errors.Is(err, stream.ErrNotReady) || errors.Is(err, stream.ErrEndOfStream) {
			break
		}
		if err != nil {
			return got, fmt.Errorf("app: sensor: %w", err)
		}
		p.block = append(p.block[:0], blk...)
		got = true
		if err := p.drv.ReleaseFrame(capture.RX); err != nil {
			return got, fmt.Errorf("app: sensor: %w", err)
		}
	}
	return got, nil
}

// Stats returns the receive stream counters.
func (p *SensorProvider) Stats() (stream.Stats, error) {
	return p.drv.Stats(capture.RX)
}

// Close disables the receiver.
func (p *SensorProvider) Close() error {
	if !p.started {
		return nil
	}
	p.started = false
	p.drv.Control(capture.ControlRxDisable)
	return p.drv.Uninitialize()
}

// SensorApp forwards sensor samples to a sink.
type SensorApp struct {
	opts     SensorOptions
	sink     sink.Sink
	provider *SensorProvider
}

// NewSensorApp creates a SensorApp writing to s.
func NewSensorApp(s sink.Sink, opts SensorOptions) *SensorApp {
	opts.defaults()
	return &SensorApp{opts: opts, sink: s, provider: NewSensorProvider(opts)}
}

// Provider returns the sample provider.
func (a *SensorApp) Provider() *SensorProvider { return a.provider }

// Run fetches blocks until MaxBlocks is reached or ctx is cancelled.
// Cancellation ends the run without error.
func (a *SensorApp) Run(ctx context.Context) (*Report, error) {
	rep := &Report{Kind: "sensor", Source: a.opts.Source, Sink: a.sink.Name(), Started: time.Now()}
	defer func() { rep.Duration = time.Since(rep.Started) }()
	defer a.provider.Close()

	if _, err := a.provider.Samples(ctx, nil); err != nil {
		return rep, err
	}
	buf := make([]byte, a.provider.BlockSize())
	for a.opts.MaxBlocks == 0 || rep.Delivered < uint64(a.opts.MaxBlocks) {
		n, err := a.provider.Samples(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			a.stats(rep)
			return rep, err
		}
		if n == 0 {
			continue
		}
		f := sink.Frame{Data: buf[:n], Seq: rep.Delivered, Time: time.Now()}
		if err := a.sink.Write(ctx, f); err != nil {
			a.stats(rep)
			return rep, fmt.Errorf("app: sensor: sink: %w", err)
		}
		rep.Delivered++
	}
	a.stats(rep)
	a.opts.Logger.Info("Sensor stream stopped", "blocks", rep.Delivered, "bytes", a.provider.Total())
	return rep, nil
}

func (a *SensorApp) stats(rep *Report) {
	if st, err := a.provider.Stats(); err == nil {
		rep.addStats(st)
	}
}
