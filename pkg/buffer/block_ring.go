package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrEmpty is returned by Acquire when no produced block is waiting.
	ErrEmpty = errors.New("buffer: no block ready")

	// ErrNoBlockHeld is returned by Release when the consumer holds no block.
	ErrNoBlockHeld = errors.New("buffer: no block held")

	// ErrBlockHeld is returned by Acquire when the previous block has not
	// been released yet.
	ErrBlockHeld = errors.New("buffer: block already held")
)

// Slot states. The state word of a slot packs the absolute block number
// that last used the slot with one of these states: seq<<2 | state.
const (
	slotFree uint64 = iota
	slotFilling
	slotReady
	slotHeld
)

func slotWord(seq, state uint64) uint64 { return seq<<2 | state }

func slotState(w uint64) uint64 { return w & 3 }

// BlockRing is a lock-free single-producer, single-consumer ring of
// fixed-size blocks laid over caller-provided memory.
//
// The producer claims the slot of the next block with Begin, fills it and
// publishes it with Commit. The consumer takes ownership of the oldest
// published block with Acquire and gives it back with Release. A block is
// owned by exactly one side at any time; the hand-over is a single-word
// compare-and-swap on the slot's state word.
//
// Counters are absolute and only ever grow; the slot of block n is
// n & (blockCount-1). Each counter has exactly one writer:
//
//   - written, overruns, dropped: producer
//   - read, acked: consumer
//
// Memory ordering: the producer writes block bytes before the Ready CAS and
// the consumer reads them after the Held CAS. Go's sync/atomic operations
// are sequentially consistent, which gives the release/acquire pairing the
// hand-over needs.
//
// When the producer laps the consumer, the oldest unconsumed block is
// overwritten and the overflow flag latches until the next Release. A slot
// the consumer still holds is never overwritten; the incoming block is
// dropped instead and also counted as an overrun.
type BlockRing struct {
	written atomic.Uint64
	_       [56]byte
	read    atomic.Uint64
	_       [56]byte
	overrun atomic.Uint64
	dropped atomic.Uint64
	_       [48]byte
	acked   atomic.Uint64
	held    atomic.Bool
	_       [48]byte

	slots     []atomic.Uint64
	data      []byte
	blockSize int
	mask      uint64

	// producer-owned
	filling bool

	// consumer-owned
	heldSeq uint64
}

// NewBlockRing lays a ring of blockCount blocks of blockSize bytes over mem.
// blockCount must be a power of two and mem must hold at least
// blockSize*blockCount bytes; extra bytes are left untouched.
func NewBlockRing(mem []byte, blockSize, blockCount int) (*BlockRing, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("buffer: invalid block size %d", blockSize)
	}
	if !IsPowerOfTwo(blockCount) {
		return nil, fmt.Errorf("buffer: block count %d is not a power of two", blockCount)
	}
	if len(mem) < blockSize*blockCount {
		return nil, fmt.Errorf("buffer: %d bytes cannot hold %d blocks of %d bytes", len(mem), blockCount, blockSize)
	}
	return &BlockRing{
		slots:     make([]atomic.Uint64, blockCount),
		data:      mem[:blockSize*blockCount],
		blockSize: blockSize,
		mask:      uint64(blockCount - 1),
	}, nil
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// BlockSize returns the size of one block in bytes.
func (r *BlockRing) BlockSize() int { return r.blockSize }

// BlockCount returns the ring capacity in blocks.
func (r *BlockRing) BlockCount() int { return len(r.slots) }

func (r *BlockRing) block(seq uint64) []byte {
	off := int(seq&r.mask) * r.blockSize
	return r.data[off : off+r.blockSize : off+r.blockSize]
}

// Begin claims the slot for the next block and returns its memory.
//
// It returns false if the slot is held by the consumer; the block is then
// lost and counted as dropped. Calling Begin again before Commit or Abort
// returns the same block. Producer only.
func (r *BlockRing) Begin() ([]byte, bool) {
	w := r.written.Load()
	if r.filling {
		return r.block(w), true
	}
	s := &r.slots[w&r.mask]
	for {
		cur := s.Load()
		switch slotState(cur) {
		case slotHeld:
			r.dropped.Add(1)
			r.overrun.Add(1)
			return nil, false
		case slotReady:
			if !s.CompareAndSwap(cur, slotWord(w, slotFilling)) {
				continue
			}
			r.overrun.Add(1)
		default:
			if !s.CompareAndSwap(cur, slotWord(w, slotFilling)) {
				continue
			}
		}
		r.filling = true
		return r.block(w), true
	}
}

// Commit publishes the block claimed by Begin. It returns false if no block
// was claimed. Producer only.
func (r *BlockRing) Commit() bool {
	if !r.filling {
		return false
	}
	w := r.written.Load()
	r.slots[w&r.mask].Store(slotWord(w, slotReady))
	r.written.Store(w + 1)
	r.filling = false
	return true
}

// Abort gives up the block claimed by Begin without publishing it. Whatever
// the slot held before is lost. Producer only.
func (r *BlockRing) Abort() {
	if !r.filling {
		return
	}
	w := r.written.Load()
	r.slots[w&r.mask].Store(slotWord(w, slotFree))
	r.filling = false
}

// Put copies p into the next block and publishes it. Short input leaves the
// remainder of the block zeroed. Producer only.
func (r *BlockRing) Put(p []byte) bool {
	blk, ok := r.Begin()
	if !ok {
		return false
	}
	n := copy(blk, p)
	clear(blk[n:])
	return r.Commit()
}

// Acquire takes ownership of the oldest intact published block.
//
// Blocks are returned strictly in production order; blocks overwritten by
// the producer before they were acquired are skipped. The returned sequence
// number is the absolute block number. Consumer only.
func (r *BlockRing) Acquire() ([]byte, uint64, error) {
	if r.held.Load() {
		return nil, 0, ErrBlockHeld
	}
	w := r.written.Load()
	rd := r.read.Load()
	if n := uint64(len(r.slots)); w-rd > n {
		rd = w - n
	}
	for ; rd < w; rd++ {
		s := &r.slots[rd&r.mask]
		if s.CompareAndSwap(slotWord(rd, slotReady), slotWord(rd, slotHeld)) {
			r.heldSeq = rd
			r.held.Store(true)
			r.read.Store(rd + 1)
			return r.block(rd), rd, nil
		}
	}
	r.read.Store(rd)
	return nil, 0, ErrEmpty
}

// Release returns the held block to the producer and acknowledges any
// overflow observed so far. Consumer only.
func (r *BlockRing) Release() error {
	if !r.held.Load() {
		return ErrNoBlockHeld
	}
	seq := r.heldSeq
	r.slots[seq&r.mask].Store(slotWord(seq, slotFree))
	r.held.Store(false)
	r.acked.Store(r.overrun.Load())
	return nil
}

// RingStatus is a point-in-time view of a BlockRing.
type RingStatus struct {
	// Pending is the number of published blocks not yet acquired, capped at
	// the ring capacity.
	Pending int

	// Held reports whether the consumer holds a block.
	Held bool

	Empty    bool
	Full     bool
	Overflow bool
}

// Status computes the ring status from the counters. It has no side effects
// and may be called from any goroutine.
func (r *BlockRing) Status() RingStatus {
	rd := r.read.Load()
	w := r.written.Load()
	n := len(r.slots)
	pending := n
	if d := w - rd; d < uint64(n) {
		pending = int(d)
	}
	held := r.held.Load()
	occupied := pending
	if held {
		occupied++
	}
	return RingStatus{
		Pending:  pending,
		Held:     held,
		Empty:    pending == 0,
		Full:     occupied >= n,
		Overflow: r.overrun.Load() != r.acked.Load(),
	}
}

// Written returns the number of blocks published so far.
func (r *BlockRing) Written() uint64 { return r.written.Load() }

// Overruns returns how many blocks were overwritten or dropped because the
// consumer fell behind.
func (r *BlockRing) Overruns() uint64 { return r.overrun.Load() }

// Dropped returns how many incoming blocks were discarded because their
// slot was held by the consumer.
func (r *BlockRing) Dropped() uint64 { return r.dropped.Load() }

// Reset discards all blocks and counters. Neither side may be using the
// ring concurrently.
func (r *BlockRing) Reset() {
	for i := range r.slots {
		r.slots[i].Store(0)
	}
	r.written.Store(0)
	r.read.Store(0)
	r.overrun.Store(0)
	r.dropped.Store(0)
	r.acked.Store(0)
	r.held.Store(false)
	r.filling = false
	r.heldSeq = 0
}
