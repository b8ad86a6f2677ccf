// Package stream implements a bounded block stream with an explicit
// lifecycle, the core shared by every capture and sample driver.
//
// A Stream is configured with a block geometry, bound to caller memory,
// started in single or continuous mode, and drained by one consumer while
// one producer (a DMA completion handler or a simulated timer) fills it:
//
//	s := stream.New(stream.Options{Name: "in0"})
//	s.Configure(blockSize, 4, 30)
//	s.SetBuffer(make([]byte, blockSize*4))
//	s.Start(stream.ModeContinuous)
//
//	for {
//	    if err := s.Wait(ctx); err != nil {
//	        break // ErrEndOfStream, ErrState after Stop, or ctx error
//	    }
//	    blk, err := s.Acquire()
//	    if err != nil {
//	        continue
//	    }
//	    consume(blk)
//	    s.Release()
//	}
//
// The producer never blocks. When the consumer falls behind the oldest
// unconsumed block is overwritten and Status().Overflow latches until the
// next Release.
package stream
