package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vsi-examples/vsistream/pkg/capture"
)

func TestSamplesEventWithoutBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intdata.txt")
	if err := os.WriteFile(path, []byte("1 2 3 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One block every four seconds: nothing lands during the test.
	p := NewSensorProvider(SensorOptions{Source: path, SampleRate: 1, NumSamples: 4})
	t.Cleanup(func() { p.Close() })

	buf := make([]byte, 4)
	if _, err := p.Samples(ctx, buf); err != nil {
		t.Fatalf("setup: %v", err)
	}

	p.event(capture.EventRxData)
	p.event(capture.EventRxData)
	if p.Total() != 4 {
		t.Fatalf("total=%d, want 4", p.Total())
	}

	n, err := p.Samples(ctx, buf)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if n != 0 {
		t.Errorf("n=%d, want 0", n)
	}

	// The position moved on; the next call waits for a new event.
	short, stop := context.WithTimeout(ctx, 30*time.Millisecond)
	defer stop()
	if _, err := p.Samples(short, buf); err != context.DeadlineExceeded {
		t.Errorf("err=%v, want DeadlineExceeded", err)
	}
}
