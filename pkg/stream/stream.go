package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsi-examples/vsistream/pkg/buffer"
)

// Sentinel errors.
var (
	// ErrParameter reports an invalid configuration value. The call had no
	// effect and retrying with the same arguments fails again.
	ErrParameter = errors.New("stream: parameter error")

	// ErrState reports a call made in the wrong lifecycle state.
	ErrState = errors.New("stream: state error")

	// ErrNotReady is returned by Acquire when no block is waiting.
	ErrNotReady = errors.New("stream: no block ready")

	// ErrEndOfStream is returned by Acquire once the producer has ended the
	// stream and every block produced before that has been delivered.
	ErrEndOfStream = errors.New("stream: end of stream")
)

// State is the lifecycle state of a Stream.
type State int32

const (
	StateUnconfigured State = iota
	StateConfigured
	StateBuffered
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateBuffered:
		return "buffered"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Mode selects how long a started stream runs.
type Mode int32

const (
	// ModeSingle transfers exactly one block, then stops.
	ModeSingle Mode = iota
	// ModeContinuous transfers until stopped or the source ends.
	ModeContinuous
)

func (m Mode) String() string {
	if m == ModeSingle {
		return "single"
	}
	return "continuous"
}

// ParseMode parses "single" or "continuous".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single":
		return ModeSingle, nil
	case "continuous", "":
		return ModeContinuous, nil
	}
	return 0, fmt.Errorf("stream: unknown mode %q: %w", s, ErrParameter)
}

// Status is a snapshot of a stream, computed on every call.
type Status struct {
	Empty       bool `json:"empty" yaml:"empty"`
	Full        bool `json:"full" yaml:"full"`
	Overflow    bool `json:"overflow" yaml:"overflow"`
	EndOfStream bool `json:"end_of_stream" yaml:"end_of_stream"`
	Active      bool `json:"active" yaml:"active"`
}

// Stats counts the blocks that moved through a stream since SetBuffer.
type Stats struct {
	Produced  uint64 `json:"produced" yaml:"produced"`
	Delivered uint64 `json:"delivered" yaml:"delivered"`
	Overruns  uint64 `json:"overruns" yaml:"overruns"`
	Dropped   uint64 `json:"dropped" yaml:"dropped"`
}

// Options configures a Stream.
type Options struct {
	// Name identifies the stream in logs.
	Name string

	// Output marks a stream whose producer is the application and whose
	// consumer is the peripheral. The producer may then fill blocks before
	// the stream is started, and ModeSingle stops after the first block is
	// consumed rather than produced.
	Output bool

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Stream is a bounded block stream between one producer and one consumer.
//
// Control calls (Configure, SetBuffer, Start, Stop, Reset) are serialized by
// a mutex and belong to the consumer's context. The data plane (BeginBlock,
// CommitBlock on the producer side; Acquire, Release, Status on the
// consumer side) never takes that mutex.
type Stream struct {
	name   string
	output bool
	logger *slog.Logger

	// notify wakes a consumer blocked in Wait. Coalescing, never blocks.
	notify chan struct{}

	mu         sync.Mutex
	blockSize  int
	blockCount int
	sampleRate int
	mem        []byte

	state    atomic.Int32
	mode     atomic.Int32
	gen      atomic.Uint64
	eos      atomic.Bool
	inflight atomic.Int32
	ring     atomic.Pointer[buffer.BlockRing]

	produced  atomic.Uint64
	delivered atomic.Uint64

	// producer-owned
	filling bool
	fillGen uint64
}

// New creates an unconfigured Stream.
func New(opts Options) *Stream {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "stream"
	}
	return &Stream{
		name:   name,
		output: opts.Output,
		logger: logger.With("stream", name),
		notify: make(chan struct{}, 1),
	}
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// State returns the current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Mode returns the mode of the last Start.
func (s *Stream) Mode() Mode { return Mode(s.mode.Load()) }

// BlockSize returns the configured block size in bytes.
func (s *Stream) BlockSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockSize
}

// BlockCount returns the configured ring capacity in blocks.
func (s *Stream) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockCount
}

// SampleRate returns the configured rate (frames or samples per second).
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// Configure sets the block geometry and rate.
//
// blockSize and sampleRate must be positive and blockCount a power of two.
// On error nothing changes. Reconfiguring drops any bound buffer; SetBuffer
// must be called again.
func (s *Stream) Configure(blockSize, blockCount, sampleRate int) error {
	if blockSize <= 0 {
		return fmt.Errorf("stream: configure: block size %d: %w", blockSize, ErrParameter)
	}
	if !buffer.IsPowerOfTwo(blockCount) {
		return fmt.Errorf("stream: configure: block count %d is not a power of two: %w", blockCount, ErrParameter)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("stream: configure: sample rate %d: %w", sampleRate, ErrParameter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateStreaming {
		return fmt.Errorf("stream: configure while streaming: %w", ErrState)
	}
	s.fence()
	s.blockSize = blockSize
	s.blockCount = blockCount
	s.sampleRate = sampleRate
	s.mem = nil
	s.ring.Store(nil)
	s.eos.Store(false)
	s.state.Store(int32(StateConfigured))
	s.logger.Debug("stream: configured", "block_size", blockSize, "block_count", blockCount, "rate", sampleRate)
	return nil
}

// SetBuffer binds mem as ring storage. The stream must be configured and
// not streaming; mem must hold blockSize*blockCount bytes.
func (s *Stream) SetBuffer(mem []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateUnconfigured:
		return fmt.Errorf("stream: set buffer before configure: %w", ErrState)
	case StateStreaming:
		return fmt.Errorf("stream: set buffer while streaming: %w", ErrState)
	}
	if need := s.blockSize * s.blockCount; len(mem) < need {
		return fmt.Errorf("stream: set buffer: %d bytes, need %d: %w", len(mem), need, ErrParameter)
	}
	ring, err := buffer.NewBlockRing(mem, s.blockSize, s.blockCount)
	if err != nil {
		return fmt.Errorf("stream: set buffer: %v: %w", err, ErrParameter)
	}
	s.fence()
	s.mem = mem
	s.ring.Store(ring)
	s.eos.Store(false)
	s.produced.Store(0)
	s.delivered.Store(0)
	s.state.Store(int32(StateBuffered))
	return nil
}

// Start begins streaming in the given mode.
//
// It fails with ErrState if no buffer is bound, if the stream is already
// streaming, or if a previous end of stream still has undelivered blocks.
// Once those are drained the stream may be restarted.
func (s *Stream) Start(mode Mode) error {
	if mode != ModeSingle && mode != ModeContinuous {
		return fmt.Errorf("stream: start: mode %d: %w", mode, ErrParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch st := s.State(); st {
	case StateUnconfigured, StateConfigured:
		return fmt.Errorf("stream: start without buffer: %w", ErrState)
	case StateStreaming:
		return fmt.Errorf("stream: already streaming: %w", ErrState)
	}
	ring := s.ring.Load()
	if s.eos.Load() {
		if !ring.Status().Empty {
			return fmt.Errorf("stream: start before end of stream was consumed: %w", ErrState)
		}
		s.eos.Store(false)
	}
	s.mode.Store(int32(mode))
	s.state.Store(int32(StateStreaming))
	s.logger.Debug("stream: started", "mode", mode)
	return nil
}

// Stop halts production. A block the producer is filling is discarded.
// Blocks already produced stay available to the consumer. Stop is
// idempotent.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halt() {
		s.logger.Debug("stream: stopped")
	}
	return nil
}

// halt moves a streaming stream to stopped. The state is published before
// the generation bump so a producer that still saw Streaming is guaranteed
// to observe a stale generation at commit time.
func (s *Stream) halt() bool {
	if !s.state.CompareAndSwap(int32(StateStreaming), int32(StateStopped)) {
		return false
	}
	s.gen.Add(1)
	s.wake()
	return true
}

// Reset returns the stream to the unconfigured state, discarding the buffer
// binding and all blocks.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fence()
	s.ring.Store(nil)
	s.mem = nil
	s.blockSize, s.blockCount, s.sampleRate = 0, 0, 0
	s.eos.Store(false)
	s.produced.Store(0)
	s.delivered.Store(0)
	s.state.Store(int32(StateUnconfigured))
	s.wake()
}

// fence makes the stream non-producible and waits for the producer to
// leave any block it is filling.
func (s *Stream) fence() {
	s.state.Store(int32(StateUnconfigured))
	s.gen.Add(1)
	s.quiesce()
}

// quiesce waits until no producer call is between BeginBlock and
// CommitBlock/AbortBlock. Callers have already made the stream
// non-producible, so the wait is bounded by one block fill.
func (s *Stream) quiesce() {
	for s.inflight.Load() != 0 {
		runtime.Gosched()
	}
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Status returns the current stream status. It has no side effects and is
// safe to call at any rate from any goroutine.
func (s *Stream) Status() Status {
	// State before eos: writers store eos first.
	active := s.State() == StateStreaming
	st := Status{
		Empty:       true,
		EndOfStream: s.eos.Load(),
		Active:      active,
	}
	if ring := s.ring.Load(); ring != nil {
		rs := ring.Status()
		st.Empty = rs.Empty
		st.Full = rs.Full
		st.Overflow = rs.Overflow
	}
	return st
}

// Stats returns block counters.
func (s *Stream) Stats() Stats {
	st := Stats{
		Produced:  s.produced.Load(),
		Delivered: s.delivered.Load(),
	}
	if ring := s.ring.Load(); ring != nil {
		st.Overruns = ring.Overruns()
		st.Dropped = ring.Dropped()
	}
	return st
}

// Acquire hands the oldest produced block to the consumer.
//
// It returns ErrNotReady when nothing is waiting and ErrEndOfStream when
// the producer has ended and all earlier blocks were delivered. The block
// stays valid until Release.
func (s *Stream) Acquire() ([]byte, error) {
	ring := s.ring.Load()
	if ring == nil {
		return nil, fmt.Errorf("stream: acquire without buffer: %w", ErrState)
	}
	blk, err := s.acquire(ring)
	if !errors.Is(err, ErrNotReady) {
		return blk, err
	}
	if !s.eos.Load() {
		return nil, err
	}
	// End of stream is published after the last commit; look once more so
	// that block is not lost.
	blk, err = s.acquire(ring)
	if errors.Is(err, ErrNotReady) {
		return nil, ErrEndOfStream
	}
	return blk, err
}

func (s *Stream) acquire(ring *buffer.BlockRing) ([]byte, error) {
	blk, _, err := ring.Acquire()
	switch {
	case err == nil:
		s.delivered.Add(1)
		return blk, nil
	case errors.Is(err, buffer.ErrBlockHeld):
		return nil, fmt.Errorf("stream: acquire: previous block not released: %w", ErrState)
	default:
		return nil, ErrNotReady
	}
}

// Release returns the block obtained from Acquire.
func (s *Stream) Release() error {
	ring := s.ring.Load()
	if ring == nil {
		return fmt.Errorf("stream: release without buffer: %w", ErrState)
	}
	if err := ring.Release(); err != nil {
		return fmt.Errorf("stream: release: %v: %w", err, ErrState)
	}
	if s.output && s.Mode() == ModeSingle && s.halt() {
		s.logger.Debug("stream: single block consumed")
	}
	return nil
}

func (s *Stream) producible() bool {
	st := s.State()
	if s.output {
		return st == StateBuffered || st == StateStreaming || st == StateStopped
	}
	return st == StateStreaming
}

// BeginBlock claims the next block for the producer.
//
// It returns false when the stream does not accept data (not streaming, or
// ended) or when the target slot is still held by the consumer; in the
// latter case the block is counted as an overrun. Producer only.
func (s *Stream) BeginBlock() ([]byte, bool) {
	if s.filling {
		if ring := s.ring.Load(); ring != nil {
			return ring.Begin()
		}
	}
	s.inflight.Add(1)
	gen := s.gen.Load()
	if !s.producible() || s.eos.Load() {
		s.inflight.Add(-1)
		return nil, false
	}
	ring := s.ring.Load()
	if ring == nil {
		s.inflight.Add(-1)
		return nil, false
	}
	blk, ok := ring.Begin()
	if !ok {
		s.inflight.Add(-1)
		s.logger.Debug("stream: block dropped, slot held by consumer")
		return nil, false
	}
	s.filling = true
	s.fillGen = gen
	return blk, true
}

// CommitBlock publishes the block from BeginBlock. If the stream was stopped
// or reconfigured since BeginBlock, the block is discarded and false is
// returned. Producer only.
func (s *Stream) CommitBlock() bool {
	if !s.filling {
		return false
	}
	s.filling = false
	defer s.inflight.Add(-1)
	ring := s.ring.Load()
	if s.gen.Load() != s.fillGen {
		ring.Abort()
		s.logger.Debug("stream: in-flight block discarded")
		return false
	}
	ring.Commit()
	s.produced.Add(1)
	if !s.output && s.Mode() == ModeSingle {
		// eos is published before the state so a consumer that sees
		// Stopped also sees the end of stream.
		s.eos.Store(true)
		s.halt()
	}
	s.wake()
	return true
}

// AbortBlock discards the block from BeginBlock. Producer only.
func (s *Stream) AbortBlock() {
	if !s.filling {
		return
	}
	s.filling = false
	s.ring.Load().Abort()
	s.inflight.Add(-1)
}

// Put copies p into one block and publishes it, zero-filling the rest.
// Producer only.
func (s *Stream) Put(p []byte) bool {
	blk, ok := s.BeginBlock()
	if !ok {
		return false
	}
	n := copy(blk, p)
	clear(blk[n:])
	return s.CommitBlock()
}

// EndOfStream marks the source as finished. No further blocks are
// produced; blocks already produced remain deliverable. Producer only.
func (s *Stream) EndOfStream() {
	if s.filling {
		s.AbortBlock()
	}
	s.eos.Store(true)
	s.state.CompareAndSwap(int32(StateStreaming), int32(StateStopped))
	s.gen.Add(1)
	s.wake()
	s.logger.Debug("stream: end of stream")
}

// Wait blocks until a block is ready, the stream ended, or ctx is done.
//
// It returns nil when a block is ready, ErrEndOfStream when the stream
// ended and is drained, and ErrState when the stream was stopped with
// nothing left to deliver.
func (s *Stream) Wait(ctx context.Context) error {
	for {
		if err := s.ready(); err != errWaiting {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
	}
}

// Poll is Wait for consumers that prefer to spin: it checks the status and
// sleeps interval between checks.
func (s *Stream) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := time.NewTimer(interval)
	defer t.Stop()
	for {
		if err := s.ready(); err != errWaiting {
			return err
		}
		t.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

var errWaiting = errors.New("waiting")

func (s *Stream) ready() error {
	st := s.Status()
	switch {
	case !st.Empty:
		return nil
	case st.EndOfStream:
		// The final commit may have landed between the two loads.
		if !s.Status().Empty {
			return nil
		}
		return ErrEndOfStream
	case !st.Active && !s.output:
		return fmt.Errorf("stream: waiting on a stopped stream: %w", ErrState)
	}
	return errWaiting
}
