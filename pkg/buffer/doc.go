// Package buffer provides the fixed-memory ring structures used to move
// streamed blocks between a producer and a consumer.
//
//   - BlockRing: a lock-free single-producer, single-consumer ring of
//     fixed-size blocks with explicit acquire/release ownership and
//     overflow accounting. This is the data plane of a capture stream:
//     a simulated DMA engine fills blocks, the application drains them.
//
//   - Window: a small mutex-guarded window that keeps the most recent N
//     items, used for log capture in terminal output.
//
// Example usage:
//
//	mem := make([]byte, 4*1024)
//	ring, err := buffer.NewBlockRing(mem, 1024, 4)
//
//	// producer
//	if blk, ok := ring.Begin(); ok {
//	    fill(blk)
//	    ring.Commit()
//	}
//
//	// consumer
//	blk, seq, err := ring.Acquire()
//	if err == nil {
//	    use(seq, blk)
//	    ring.Release()
//	}
package buffer
