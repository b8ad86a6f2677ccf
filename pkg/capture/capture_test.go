package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vsi-examples/vsistream/pkg/pixfmt"
	"github.com/vsi-examples/vsistream/pkg/stream"
)

func waitFrame(t *testing.T, d interface {
	Stream(Interface) (*stream.Stream, error)
}, iface Interface) {
	t.Helper()
	s, err := d.Stream(iface)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestVideoSequencing(t *testing.T) {
	v := NewVideo(VideoOptions{})
	if err := v.Configure(In0, 4, 4, int(pixfmt.Gray8), 30); !errors.Is(err, ErrDriver) {
		t.Errorf("configure before initialize: %v", err)
	}
	v.Initialize(nil)
	t.Cleanup(func() { v.Uninitialize() })

	tests := []struct {
		name             string
		iface            Interface
		w, h, format, fr int
		want             error
	}{
		{"zero-width", In0, 0, 4, int(pixfmt.Gray8), 30, ErrParameter},
		{"zero-rate", In0, 4, 4, int(pixfmt.Gray8), 0, ErrParameter},
		{"bad-format", In0, 4, 4, 99, 30, ErrParameter},
		{"bad-interface", Interface(7), 4, 4, int(pixfmt.Gray8), 30, ErrParameter},
		{"ok", In0, 4, 4, int(pixfmt.Gray8), 30, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Configure(tt.iface, tt.w, tt.h, tt.format, tt.fr)
			if tt.want == nil && err != nil {
				t.Fatalf("Configure: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, want %v", err, tt.want)
			}
		})
	}

	if err := v.SetBuffer(In0, make([]byte, 64), 0, 15); !errors.Is(err, ErrParameter) {
		t.Errorf("wrong block size: %v", err)
	}
	if err := v.StreamStart(In0, stream.ModeContinuous); !errors.Is(err, ErrDriver) {
		t.Errorf("start without buffer: %v", err)
	}
	if err := v.SetBuffer(In0, make([]byte, 48), 0, 0); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	s, _ := v.Stream(In0)
	if s.BlockCount() != 2 {
		t.Errorf("block count=%d, want 2", s.BlockCount())
	}
	if err := v.Control(0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("control: %v", err)
	}
	if err := v.SetSource(Out0, "x.png"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("output source: %v", err)
	}
}

func TestVideoCapture(t *testing.T) {
	var mu sync.Mutex
	var events []uint32
	v := NewVideo(VideoOptions{})
	v.Initialize(func(ev uint32) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	t.Cleanup(func() { v.Uninitialize() })

	if err := v.ConfigureFormat(In0, 8, 8, pixfmt.RGB888, 1000); err != nil {
		t.Fatal(err)
	}
	if v.FrameSize(In0) != 8*8*3 {
		t.Fatalf("frame size=%d", v.FrameSize(In0))
	}
	if err := v.SetBuffer(In0, make([]byte, 4*v.FrameSize(In0)), 4, 0); err != nil {
		t.Fatal(err)
	}
	if err := v.SetSource(In0, "pattern:3"); err != nil {
		t.Fatal(err)
	}
	if err := v.StreamStart(In0, stream.ModeContinuous); err != nil {
		t.Fatal(err)
	}

	frames := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := v.GetStatus(In0)
		if err != nil {
			t.Fatal(err)
		}
		if st.Empty {
			if st.EndOfStream {
				break
			}
			time.Sleep(time.Millisecond)
			continue
		}
		frame, err := v.GetFrameBuffer(In0)
		if err != nil {
			t.Fatalf("GetFrameBuffer: %v", err)
		}
		if len(frame) != 8*8*3 {
			t.Fatalf("frame len=%d", len(frame))
		}
		frames++
		if err := v.ReleaseFrame(In0); err != nil {
			t.Fatal(err)
		}
	}
	if frames != 3 {
		t.Errorf("frames=%d, want 3", frames)
	}
	if _, err := v.GetFrameBuffer(In0); !errors.Is(err, stream.ErrEndOfStream) {
		t.Errorf("after end: %v", err)
	}
	if err := v.StreamStop(In0); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawEOS bool
	for _, ev := range events {
		if ev&EventEndOfStream != 0 {
			sawEOS = true
		}
	}
	if !sawEOS {
		t.Errorf("no end-of-stream event in %v", events)
	}
}

func TestVideoStill(t *testing.T) {
	v := NewVideo(VideoOptions{})
	v.Initialize(nil)
	t.Cleanup(func() { v.Uninitialize() })
	v.ConfigureFormat(In0, 4, 4, pixfmt.Gray8, 30)
	v.SetBuffer(In0, make([]byte, 16), 1, 16)
	if err := v.SetSource(In0, filepath.Join(t.TempDir(), "missing.bmp")); err != nil {
		t.Fatal(err)
	}
	if err := v.StreamStart(In0, stream.ModeSingle); !errors.Is(err, ErrParameter) {
		t.Errorf("missing still: %v", err)
	}
	v.SetSource(In0, "clip.mp4")
	if err := v.StreamStart(In0, stream.ModeSingle); !errors.Is(err, ErrUnsupported) {
		t.Errorf("encoded video: %v", err)
	}
}

func TestVideoOutput(t *testing.T) {
	v := NewVideo(VideoOptions{})
	v.Initialize(nil)
	t.Cleanup(func() { v.Uninitialize() })

	var got atomic.Pointer[[]byte]
	v.SetOutput(Out0, func(b []byte) error {
		c := bytes.Clone(b)
		got.Store(&c)
		return nil
	})
	v.ConfigureFormat(Out0, 2, 2, pixfmt.Gray8, 1000)
	if err := v.SetBuffer(Out0, make([]byte, 4), 1, 4); err != nil {
		t.Fatal(err)
	}
	frame, err := v.GetFrameBuffer(Out0)
	if err != nil {
		t.Fatalf("GetFrameBuffer: %v", err)
	}
	copy(frame, []byte{1, 2, 3, 4})
	if err := v.ReleaseFrame(Out0); err != nil {
		t.Fatal(err)
	}
	if err := v.StreamStart(Out0, stream.ModeSingle); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for got.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	v.StreamStop(Out0)
	if p := got.Load(); p == nil || !bytes.Equal(*p, []byte{1, 2, 3, 4}) {
		t.Errorf("output=%v", p)
	}
}

func TestSensor(t *testing.T) {
	data := filepath.Join(t.TempDir(), "intdata.txt")
	if err := os.WriteFile(data, []byte("1 2 3 4\n5 6 7 8\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var rx atomic.Int32
	s := NewSensor(SensorOptions{})
	if err := s.Control(ControlRxEnable); !errors.Is(err, ErrDriver) {
		t.Errorf("control before initialize: %v", err)
	}
	s.Initialize(func(ev uint32) {
		if ev&EventRxData != 0 {
			rx.Add(1)
		}
	})
	t.Cleanup(func() { s.Uninitialize() })

	if err := s.Configure(RX, 0, 8, 1000, 0); !errors.Is(err, ErrParameter) {
		t.Errorf("zero channels: %v", err)
	}
	if err := s.Configure(RX, 1, 64, 1000, 0); !errors.Is(err, ErrParameter) {
		t.Errorf("64 bits: %v", err)
	}
	if err := s.SetBuffer(RX, make([]byte, 16), 4, 4); !errors.Is(err, ErrDriver) {
		t.Errorf("buffer before configure: %v", err)
	}
	if err := s.Configure(RX, 1, 8, 1000, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBuffer(RX, make([]byte, 16), 3, 4); !errors.Is(err, ErrParameter) {
		t.Errorf("3 blocks: %v", err)
	}
	if err := s.SetBuffer(RX, make([]byte, 16), 4, 4); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSource(RX, data); err != nil {
		t.Fatal(err)
	}
	if err := s.Control(ControlRxEnable); err != nil {
		t.Fatal(err)
	}
	if !s.Active().RxActive || s.Active().TxActive {
		t.Errorf("active=%+v", s.Active())
	}
	if err := s.Configure(RX, 1, 8, 1000, 0); !errors.Is(err, ErrBusy) {
		t.Errorf("configure while enabled: %v", err)
	}

	want := [][]byte{{0, 0, 0, 0}, {1, 2, 3, 4}, {5, 6, 7, 8}}
	for i, w := range want {
		waitFrame(t, s, RX)
		blk, err := s.GetFrameBuffer(RX)
		if err != nil {
			t.Fatalf("block %d: %v", i, err)
		}
		if !bytes.Equal(blk, w) {
			t.Errorf("block %d=%v, want %v", i, blk, w)
		}
		s.ReleaseFrame(RX)
	}

	if err := s.Control(ControlRxPause); err != nil {
		t.Fatal(err)
	}
	n := s.Count(RX)
	time.Sleep(20 * time.Millisecond)
	if s.Count(RX) != n {
		t.Error("paused receiver kept counting")
	}
	if n < 3 || rx.Load() < 3 {
		t.Errorf("count=%d events=%d", n, rx.Load())
	}
	s.Control(ControlRxResume)
	s.Control(ControlRxDisable)
	if s.Active().RxActive {
		t.Error("receiver still active")
	}
}

func TestSensorMissingSource(t *testing.T) {
	s := NewSensor(SensorOptions{})
	s.Initialize(nil)
	t.Cleanup(func() { s.Uninitialize() })
	s.Configure(RX, 1, 8, 100, 0)
	s.SetBuffer(RX, make([]byte, 4), 1, 4)
	s.SetSource(RX, filepath.Join(t.TempDir(), "nope.txt"))
	if err := s.Control(ControlRxEnable); !errors.Is(err, ErrParameter) {
		t.Errorf("err=%v", err)
	}
	if s.Active().RxActive {
		t.Error("receiver enabled without data")
	}
}

func TestSensorTransmit(t *testing.T) {
	s := NewSensor(SensorOptions{})
	s.Initialize(nil)
	t.Cleanup(func() { s.Uninitialize() })

	var got atomic.Pointer[[]byte]
	s.SetOutput(TX, func(b []byte) error {
		c := bytes.Clone(b)
		got.Store(&c)
		return nil
	})
	s.Configure(TX, 2, 16, 1000, 0)
	if s.SampleSize(TX) != 4 {
		t.Errorf("sample size=%d", s.SampleSize(TX))
	}
	if err := s.SetBuffer(TX, make([]byte, 8), 2, 4); err != nil {
		t.Fatal(err)
	}
	frame, err := s.GetFrameBuffer(TX)
	if err != nil {
		t.Fatal(err)
	}
	copy(frame, []byte{9, 8, 7, 6})
	s.ReleaseFrame(TX)
	if err := s.Control(ControlTxEnable); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for got.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Control(ControlTxDisable)
	if p := got.Load(); p == nil || !bytes.Equal(*p, []byte{9, 8, 7, 6}) {
		t.Errorf("transmitted=%v", p)
	}
}
