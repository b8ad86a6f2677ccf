package stream

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"
)

func newStream(t *testing.T, output bool, size, count int) *Stream {
	t.Helper()
	s := New(Options{Name: t.Name(), Output: output})
	if err := s.Configure(size, count, 30); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := s.SetBuffer(make([]byte, size*count)); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	return s
}

func seqBytes(n int, base byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = base + byte(i)
	}
	return b
}

func TestSingleBlock(t *testing.T) {
	s := newStream(t, false, 16, 1)
	if err := s.Start(ModeSingle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Put(seqBytes(16, 0)) {
		t.Fatal("Put failed")
	}
	if s.State() != StateStopped {
		t.Errorf("state=%v, want stopped", s.State())
	}
	blk, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !bytes.Equal(blk, seqBytes(16, 0)) {
		t.Errorf("block=%v", blk)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	st := s.Status()
	if !st.Empty || !st.EndOfStream || st.Active {
		t.Errorf("status=%+v", st)
	}
	if _, err := s.Acquire(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Acquire after end: %v", err)
	}
	if s.Put(seqBytes(16, 1)) {
		t.Error("Put after single block must fail")
	}
}

func TestContinuousOverflow(t *testing.T) {
	s := newStream(t, false, 8, 4)
	mem := make([]byte, 32)
	if err := s.SetBuffer(mem); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ModeContinuous); err != nil {
		t.Fatal(err)
	}
	for i := range 5 {
		if !s.Put(bytes.Repeat([]byte{byte(i)}, 8)) {
			t.Fatalf("Put %d failed", i)
		}
	}
	st := s.Status()
	if !st.Overflow || !st.Full || st.Empty {
		t.Fatalf("status=%+v", st)
	}
	if !bytes.Equal(mem[:8], bytes.Repeat([]byte{4}, 8)) {
		t.Errorf("block 0 slot=%v, want block 4 data", mem[:8])
	}
	blk, err := s.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if blk[0] != 1 {
		t.Errorf("oldest intact block=%d, want 1", blk[0])
	}
	if err := s.Release(); err != nil {
		t.Fatal(err)
	}
	if s.Status().Overflow {
		t.Error("overflow must clear on release")
	}
	stats := s.Stats()
	if stats.Produced != 5 || stats.Delivered != 1 || stats.Overruns != 1 {
		t.Errorf("stats=%+v", stats)
	}
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name              string
		size, count, rate int
		wantErr           bool
	}{
		{"ok", 16, 4, 30, false},
		{"single-block", 1, 1, 1, false},
		{"zero-size", 0, 4, 30, true},
		{"negative-size", -1, 4, 30, true},
		{"zero-count", 16, 0, 30, true},
		{"count-not-power-of-two", 16, 6, 30, true},
		{"zero-rate", 16, 4, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStream(t, false, 32, 2)
			err := s.Configure(tt.size, tt.count, tt.rate)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Configure: %v", err)
				}
				if s.State() != StateConfigured || s.BlockSize() != tt.size {
					t.Errorf("state=%v size=%d", s.State(), s.BlockSize())
				}
				return
			}
			if !errors.Is(err, ErrParameter) {
				t.Fatalf("err=%v, want ErrParameter", err)
			}
			if s.State() != StateBuffered || s.BlockSize() != 32 || s.BlockCount() != 2 {
				t.Errorf("failed Configure mutated stream: state=%v size=%d count=%d", s.State(), s.BlockSize(), s.BlockCount())
			}
		})
	}
}

func TestStateSequencing(t *testing.T) {
	t.Run("set-buffer-before-configure", func(t *testing.T) {
		s := New(Options{})
		if err := s.SetBuffer(make([]byte, 16)); !errors.Is(err, ErrState) {
			t.Errorf("err=%v", err)
		}
	})

	t.Run("start-without-buffer", func(t *testing.T) {
		s := New(Options{})
		if err := s.Start(ModeContinuous); !errors.Is(err, ErrState) {
			t.Errorf("unconfigured: %v", err)
		}
		s.Configure(16, 1, 1)
		if err := s.Start(ModeContinuous); !errors.Is(err, ErrState) {
			t.Errorf("configured: %v", err)
		}
	})

	t.Run("short-buffer", func(t *testing.T) {
		s := New(Options{})
		s.Configure(16, 4, 1)
		if err := s.SetBuffer(make([]byte, 63)); !errors.Is(err, ErrParameter) {
			t.Errorf("err=%v", err)
		}
		if s.State() != StateConfigured {
			t.Errorf("state=%v", s.State())
		}
	})

	t.Run("busy", func(t *testing.T) {
		s := newStream(t, false, 16, 2)
		s.Start(ModeContinuous)
		if err := s.Start(ModeContinuous); !errors.Is(err, ErrState) {
			t.Errorf("double start: %v", err)
		}
		if err := s.SetBuffer(make([]byte, 32)); !errors.Is(err, ErrState) {
			t.Errorf("set buffer while streaming: %v", err)
		}
		if err := s.Configure(16, 2, 1); !errors.Is(err, ErrState) {
			t.Errorf("configure while streaming: %v", err)
		}
	})

	t.Run("release-without-acquire", func(t *testing.T) {
		s := newStream(t, false, 16, 2)
		if err := s.Release(); !errors.Is(err, ErrState) {
			t.Errorf("err=%v", err)
		}
	})

	t.Run("double-acquire", func(t *testing.T) {
		s := newStream(t, false, 16, 2)
		s.Start(ModeContinuous)
		s.Put(nil)
		s.Put(nil)
		if _, err := s.Acquire(); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Acquire(); !errors.Is(err, ErrState) {
			t.Errorf("err=%v", err)
		}
	})

	t.Run("not-ready", func(t *testing.T) {
		s := newStream(t, false, 16, 2)
		s.Start(ModeContinuous)
		if _, err := s.Acquire(); !errors.Is(err, ErrNotReady) {
			t.Errorf("err=%v", err)
		}
	})

	t.Run("reset", func(t *testing.T) {
		s := newStream(t, false, 16, 2)
		s.Start(ModeContinuous)
		s.Put(nil)
		s.Reset()
		if s.State() != StateUnconfigured {
			t.Errorf("state=%v", s.State())
		}
		if st := s.Status(); !st.Empty || st.Active {
			t.Errorf("status=%+v", st)
		}
		if _, err := s.Acquire(); !errors.Is(err, ErrState) {
			t.Errorf("acquire after reset: %v", err)
		}
	})
}

func TestStop(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		s := newStream(t, false, 16, 2)
		s.Start(ModeContinuous)
		for range 3 {
			if err := s.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
		}
		if s.State() != StateStopped {
			t.Errorf("state=%v", s.State())
		}
	})

	t.Run("committed-blocks-survive", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		s.Put([]byte{7})
		s.Stop()
		if s.Put([]byte{8}) {
			t.Error("Put after Stop must fail")
		}
		blk, err := s.Acquire()
		if err != nil || blk[0] != 7 {
			t.Fatalf("blk=%v err=%v", blk, err)
		}
	})

	t.Run("late-commit-discarded", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		blk, ok := s.BeginBlock()
		if !ok {
			t.Fatal("BeginBlock failed")
		}
		blk[0] = 1
		s.Stop()
		if s.CommitBlock() {
			t.Error("commit after Stop must be discarded")
		}
		if !s.Status().Empty {
			t.Error("discarded block became visible")
		}
	})

	t.Run("restart", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		s.Stop()
		if err := s.Start(ModeContinuous); err != nil {
			t.Fatalf("restart after stop: %v", err)
		}
	})

	t.Run("restart-after-end-of-stream", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		s.Put([]byte{1})
		s.EndOfStream()
		if err := s.Start(ModeContinuous); !errors.Is(err, ErrState) {
			t.Fatalf("restart with undelivered blocks: %v", err)
		}
		s.Acquire()
		s.Release()
		if _, err := s.Acquire(); !errors.Is(err, ErrEndOfStream) {
			t.Fatalf("err=%v", err)
		}
		if err := s.Start(ModeContinuous); err != nil {
			t.Fatalf("restart after drain: %v", err)
		}
		if s.Status().EndOfStream {
			t.Error("Start must clear end of stream")
		}
	})
}

func TestOutputStream(t *testing.T) {
	s := newStream(t, true, 4, 2)
	if !s.Put([]byte{1, 2, 3, 4}) {
		t.Fatal("output streams accept blocks before Start")
	}
	if err := s.Start(ModeSingle); err != nil {
		t.Fatal(err)
	}
	blk, err := s.Acquire()
	if err != nil || blk[3] != 4 {
		t.Fatalf("blk=%v err=%v", blk, err)
	}
	if s.State() != StateStreaming {
		t.Errorf("state=%v before release", s.State())
	}
	s.Release()
	if s.State() != StateStopped {
		t.Errorf("state=%v after single release", s.State())
	}
}

func TestWait(t *testing.T) {
	t.Run("wakes-on-commit", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		go func() {
			time.Sleep(10 * time.Millisecond)
			s.Put([]byte{1})
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if _, err := s.Acquire(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err=%v", err)
		}
	})

	t.Run("end-of-stream", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		s.EndOfStream()
		if err := s.Wait(context.Background()); !errors.Is(err, ErrEndOfStream) {
			t.Errorf("err=%v", err)
		}
	})

	t.Run("stopped", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		go func() {
			time.Sleep(10 * time.Millisecond)
			s.Stop()
		}()
		if err := s.Wait(context.Background()); !errors.Is(err, ErrState) {
			t.Errorf("err=%v", err)
		}
	})

	t.Run("poll", func(t *testing.T) {
		s := newStream(t, false, 16, 4)
		s.Start(ModeContinuous)
		go func() {
			time.Sleep(5 * time.Millisecond)
			s.Put([]byte{1})
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Poll(ctx, time.Millisecond); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	})
}

// TestProducerConsumer drives a producer goroutine against a consumer that
// uses Wait and checks ordering and integrity of every delivered block.
func TestProducerConsumer(t *testing.T) {
	const total = 5000
	s := newStream(t, false, 32, 4)
	s.Start(ModeContinuous)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range total {
			blk, ok := s.BeginBlock()
			for !ok {
				runtime.Gosched()
				blk, ok = s.BeginBlock()
			}
			for j := range blk {
				blk[j] = byte(i)
			}
			blk[0] = byte(i >> 8)
			s.CommitBlock()
		}
		s.EndOfStream()
	}()

	last := -1
	delivered := 0
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		err := s.Wait(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		blk, err := s.Acquire()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if errors.Is(err, ErrNotReady) {
			continue
		}
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		n := int(blk[0])<<8 | int(blk[1])
		for j := 1; j < len(blk); j++ {
			if blk[j] != blk[1] {
				t.Fatalf("torn block %d", n)
			}
		}
		if n <= last {
			t.Fatalf("out of order: %d after %d", n, last)
		}
		last = n
		delivered++
		s.Release()
	}
	wg.Wait()
	if delivered == 0 {
		t.Fatal("nothing delivered")
	}
	if last != total-1 {
		t.Errorf("last block=%d, want %d", last, total-1)
	}
}

func TestSingleEndOfStreamOrdering(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := range 20000 {
		s := newStream(t, false, 16, 1)
		if err := s.Start(ModeSingle); err != nil {
			t.Fatalf("Start: %v", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Put(seqBytes(16, byte(i)))
		}()
		_, err := s.Acquire()
		for errors.Is(err, ErrNotReady) {
			runtime.Gosched()
			_, err = s.Acquire()
		}
		if err != nil {
			t.Fatalf("run %d: Acquire: %v", i, err)
		}
		if err := s.Release(); err != nil {
			t.Fatalf("run %d: Release: %v", i, err)
		}
		if err := s.Wait(ctx); !errors.Is(err, ErrEndOfStream) {
			t.Fatalf("run %d: Wait=%v, want ErrEndOfStream", i, err)
		}
		<-done
		if st := s.Status(); !st.EndOfStream || st.Active {
			t.Fatalf("run %d: status=%+v", i, st)
		}
	}
}

func TestEndOfStreamOrdering(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := range 20000 {
		s := newStream(t, false, 16, 2)
		if err := s.Start(ModeContinuous); err != nil {
			t.Fatalf("Start: %v", err)
		}
		go s.EndOfStream()
		for {
			st := s.Status()
			if !st.Active {
				if !st.EndOfStream {
					t.Fatalf("run %d: stopped without end of stream: %+v", i, st)
				}
				break
			}
			runtime.Gosched()
		}
		if err := s.Wait(ctx); !errors.Is(err, ErrEndOfStream) {
			t.Fatalf("run %d: Wait=%v, want ErrEndOfStream", i, err)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("single"); err != nil || m != ModeSingle {
		t.Errorf("single: %v %v", m, err)
	}
	if m, err := ParseMode("continuous"); err != nil || m != ModeContinuous {
		t.Errorf("continuous: %v %v", m, err)
	}
	if _, err := ParseMode("burst"); !errors.Is(err, ErrParameter) {
		t.Errorf("burst: %v", err)
	}
}
