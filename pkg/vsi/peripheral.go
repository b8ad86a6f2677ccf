package vsi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsi-examples/vsistream/pkg/stream"
)

// Timer control bits.
const (
	TimerRun      uint32 = 1 << 0
	TimerPeriodic uint32 = 1 << 1
	TimerTrigIRQ  uint32 = 1 << 2
	TimerTrigDMA  uint32 = 1 << 3
)

// DMA control bits.
const (
	DMAEnable uint32 = 1 << 0
	DMAP2M    uint32 = 0 << 1
	DMAM2P    uint32 = 1 << 1
)

// IntervalNever is the timer interval that never fires.
const IntervalNever uint32 = 0xFFFFFFFF

// NumRegs is the number of user registers of a peripheral.
const NumRegs = 64

// ErrDirection is returned by a model asked to move data in a direction it
// does not support.
var ErrDirection = errors.New("vsi: unsupported transfer direction")

// Model is the data side of a peripheral. ReadData fills one block for a
// peripheral-to-memory transfer and WriteData receives one block of a
// memory-to-peripheral transfer. ReadData returning io.EOF ends the stream.
type Model interface {
	ReadData(p []byte) error
	WriteData(p []byte) error
}

// RegisterWriter is implemented by models that react to user register
// writes.
type RegisterWriter interface {
	WriteReg(index int, value uint32)
}

// Interval returns the timer period in microseconds that moves one block of
// blockSize bytes made of sampleSize-byte samples at sampleRate samples per
// second. It returns IntervalNever when sampleSize or sampleRate is zero.
func Interval(blockSize, sampleSize, sampleRate uint32) uint32 {
	if sampleSize == 0 || sampleRate == 0 {
		return IntervalNever
	}
	return uint32(1000000 * uint64(blockSize/sampleSize) / uint64(sampleRate))
}

// Options configures a Peripheral.
type Options struct {
	Name string

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Peripheral simulates a virtual streaming interface: a timer that paces
// transfers, a DMA engine that moves one block per timer event between a
// Model and a stream, an interrupt line, and user registers.
//
// The timer runs on its own goroutine, which is the producer context of an
// input stream (or the consumer context of an output stream). The IRQ
// handler is called on that goroutine and must not block or call SetTimer.
type Peripheral struct {
	name   string
	logger *slog.Logger

	// ctl serializes timer start and stop.
	ctl sync.Mutex

	mu            sync.Mutex
	regs          [NumRegs]uint32
	timerControl  uint32
	timerInterval uint32
	dmaControl    uint32
	target        *stream.Stream
	model         Model
	scratch       []byte
	timerStop     chan struct{}
	timerDone     chan struct{}

	count     atomic.Uint32
	irqEnable atomic.Bool
	irqStatus atomic.Uint32
	handler   atomic.Pointer[func()]
}

// New creates a Peripheral with its timer and DMA disabled.
func New(opts Options) *Peripheral {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "vsi"
	}
	return &Peripheral{
		name:   name,
		logger: logger.With("peripheral", name),
	}
}

// Name returns the peripheral name.
func (p *Peripheral) Name() string { return p.name }

// SetModel replaces the data model. The previous model is closed if it
// implements io.Closer.
func (p *Peripheral) SetModel(m Model) {
	p.mu.Lock()
	old := p.model
	p.model = m
	p.mu.Unlock()
	if c, ok := old.(io.Closer); ok && old != m {
		c.Close()
	}
}

// Model returns the current data model.
func (p *Peripheral) Model() Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// WriteReg writes user register index and forwards it to the model.
func (p *Peripheral) WriteReg(index int, value uint32) error {
	if index < 0 || index >= NumRegs {
		return fmt.Errorf("vsi: register %d out of range", index)
	}
	p.mu.Lock()
	p.regs[index] = value
	m := p.model
	p.mu.Unlock()
	if rw, ok := m.(RegisterWriter); ok {
		rw.WriteReg(index, value)
	}
	return nil
}

// ReadReg reads user register index. Out of range indexes read as zero.
func (p *Peripheral) ReadReg(index int) uint32 {
	if index < 0 || index >= NumRegs {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs[index]
}

// SetDMA sets the DMA control word and the stream it transfers to or from.
func (p *Peripheral) SetDMA(control uint32, target *stream.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dmaControl = control
	if target != nil {
		p.target = target
	}
}

// DMAControl returns the DMA control word.
func (p *Peripheral) DMAControl() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dmaControl
}

// SetIRQHandler installs the interrupt handler. nil removes it.
func (p *Peripheral) SetIRQHandler(fn func()) {
	if fn == nil {
		p.handler.Store(nil)
		return
	}
	p.handler.Store(&fn)
}

// EnableIRQ enables or disables the interrupt line.
func (p *Peripheral) EnableIRQ(on bool) { p.irqEnable.Store(on) }

// IRQEnabled reports whether the interrupt line is enabled.
func (p *Peripheral) IRQEnabled() bool { return p.irqEnable.Load() }

// IRQStatus returns the pending interrupt status.
func (p *Peripheral) IRQStatus() uint32 { return p.irqStatus.Load() }

// ClearIRQ acknowledges a pending interrupt.
func (p *Peripheral) ClearIRQ() { p.irqStatus.Store(0) }

// Count returns the number of timer events since the last Reset.
func (p *Peripheral) Count() uint32 { return p.count.Load() }

// TimerControl returns the timer control word.
func (p *Peripheral) TimerControl() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timerControl
}

// TimerInterval returns the timer interval in microseconds.
func (p *Peripheral) TimerInterval() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timerInterval
}

// SetTimerInterval sets the interval used by the next timer start.
func (p *Peripheral) SetTimerInterval(us uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timerInterval = us
}

// SetTimer writes the timer control word. Setting TimerRun starts (or
// restarts) the timer goroutine; clearing it stops the goroutine and waits
// for it to exit, so no transfer happens after SetTimer returns.
//
// SetTimer must not be called from the IRQ handler.
func (p *Peripheral) SetTimer(control uint32) {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.stopTimer()

	p.mu.Lock()
	p.timerControl = control
	interval := p.timerInterval
	p.mu.Unlock()

	if control&TimerRun == 0 {
		return
	}
	if interval == IntervalNever {
		p.logger.Debug("vsi: timer armed with no interval")
		return
	}
	p.startTimer(time.Duration(max(interval, 1)) * time.Microsecond)
}

func (p *Peripheral) startTimer(period time.Duration) {
	stop := make(chan struct{})
	done := make(chan struct{})
	p.mu.Lock()
	p.timerStop = stop
	p.timerDone = done
	p.mu.Unlock()
	p.logger.Debug("vsi: timer started", "period", period)
	go p.run(period, stop, done)
}

func (p *Peripheral) stopTimer() {
	p.mu.Lock()
	stop, done := p.timerStop, p.timerDone
	p.timerStop, p.timerDone = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	p.logger.Debug("vsi: timer stopped")
}

func (p *Peripheral) run(period time.Duration, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		if p.Tick() {
			continue
		}
		p.mu.Lock()
		if p.timerStop == stop {
			p.timerControl &^= TimerRun
			p.timerStop, p.timerDone = nil, nil
		}
		p.mu.Unlock()
		return
	}
}

// Tick runs one timer event: one DMA transfer if enabled, then the
// interrupt if enabled. It reports whether the timer should keep running.
// The timer goroutine calls Tick; tests may call it directly while the
// timer is stopped.
func (p *Peripheral) Tick() bool {
	p.mu.Lock()
	ctrl := p.timerControl
	dma := p.dmaControl
	target := p.target
	m := p.model
	p.mu.Unlock()

	p.count.Add(1)
	keep := ctrl&TimerPeriodic != 0

	if ctrl&TimerTrigDMA != 0 && dma&DMAEnable != 0 && target != nil && m != nil {
		var ok bool
		if dma&DMAM2P != 0 {
			ok = p.drain(target, m)
		} else {
			ok = p.fill(target, m)
		}
		keep = keep && ok
	}

	if ctrl&TimerTrigIRQ != 0 && p.irqEnable.Load() {
		p.irqStatus.Store(1)
		if fn := p.handler.Load(); fn != nil {
			(*fn)()
		}
	}
	return keep
}

// fill moves one block from the model into the stream.
func (p *Peripheral) fill(s *stream.Stream, m Model) bool {
	if s.Status().EndOfStream {
		return false
	}
	blk, ok := s.BeginBlock()
	if !ok {
		// The source keeps its pace even when the block has nowhere to go.
		blk = p.scratchBlock(s.BlockSize())
	}
	err := m.ReadData(blk)
	switch {
	case errors.Is(err, io.EOF):
		s.EndOfStream()
		p.logger.Info("vsi: end of data")
		return false
	case err != nil:
		if ok {
			s.AbortBlock()
		}
		p.logger.Error("vsi: read data", "error", err)
		return true
	case ok:
		s.CommitBlock()
	}
	return true
}

// drain moves one block from the stream into the model.
func (p *Peripheral) drain(s *stream.Stream, m Model) bool {
	blk, err := s.Acquire()
	switch {
	case errors.Is(err, stream.ErrEndOfStream):
		return false
	case err != nil:
		return true
	}
	if err := m.WriteData(blk); err != nil {
		p.logger.Error("vsi: write data", "error", err)
	}
	if err := s.Release(); err != nil {
		p.logger.Error("vsi: release", "error", err)
	}
	return true
}

func (p *Peripheral) scratchBlock(n int) []byte {
	if cap(p.scratch) < n {
		p.scratch = make([]byte, n)
	}
	return p.scratch[:n]
}

// Reset stops the timer, disables DMA and the interrupt, and clears the
// registers. The model is kept.
func (p *Peripheral) Reset() {
	p.EnableIRQ(false)
	p.SetTimer(0)
	p.mu.Lock()
	p.dmaControl = 0
	p.target = nil
	p.regs = [NumRegs]uint32{}
	p.mu.Unlock()
	p.ClearIRQ()
	p.count.Store(0)
}

// Close resets the peripheral and closes the model.
func (p *Peripheral) Close() error {
	p.Reset()
	p.mu.Lock()
	m := p.model
	p.model = nil
	p.mu.Unlock()
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
