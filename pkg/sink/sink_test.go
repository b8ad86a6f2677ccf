package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/vsi-examples/vsistream/pkg/storage"
)

func TestFileWriter(t *testing.T) {
	ctx := context.Background()
	fs, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("single", func(t *testing.T) {
		fw := NewFileWriter(FileOptions{Store: fs, Path: "rec/in0.raw"})
		for i := range 3 {
			if err := fw.Write(ctx, Frame{Data: []byte{byte(i), byte(i)}, Seq: uint64(i)}); err != nil {
				t.Fatal(err)
			}
		}
		if err := fw.Close(); err != nil {
			t.Fatal(err)
		}
		got, err := storage.ReadFile(ctx, fs, "rec/in0.raw")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, []byte{0, 0, 1, 1, 2, 2}) {
			t.Errorf("recording=%v", got)
		}
		if fw.Bytes() != 6 {
			t.Errorf("bytes=%d", fw.Bytes())
		}
		if err := fw.Write(ctx, Frame{Data: []byte{1}}); !errors.Is(err, ErrClosed) {
			t.Errorf("write after close: %v", err)
		}
	})

	t.Run("per-frame", func(t *testing.T) {
		fw := NewFileWriter(FileOptions{Store: fs, Path: "frames/%03d.raw", PerFrame: true})
		fw.Write(ctx, Frame{Data: []byte("a"), Seq: 1})
		fw.Write(ctx, Frame{Data: []byte("b"), Seq: 2})
		fw.Close()
		list, err := fs.List(ctx, "frames/")
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(list) != "[frames/001.raw frames/002.raw]" {
			t.Errorf("list=%v", list)
		}
	})
}

func TestLogAndNull(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewLog(logger, slog.LevelInfo)
	n := &Null{}
	m := NewMulti(l, n)
	if m.Name() != "log+null" {
		t.Errorf("name=%q", m.Name())
	}
	if err := m.Write(ctx, Frame{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, Seq: 7}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "seq=7") || !strings.Contains(out, `head="01 02 03 04 05 06 07 08"`) || !strings.Contains(out, "level=INFO") {
		t.Errorf("log=%q", out)
	}
	if l.Count() != 1 || n.Frames() != 1 || n.Bytes() != 9 {
		t.Errorf("count=%d frames=%d bytes=%d", l.Count(), n.Frames(), n.Bytes())
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	n := &Null{}
	m := NewMulti(NewDisplay(DisplayOptions{}), n)
	err := m.Write(context.Background(), Frame{Data: []byte{1}, Width: 1, Height: 1, Channels: 2})
	if !errors.Is(err, ErrChannels) {
		t.Fatalf("err=%v", err)
	}
	if n.Frames() != 1 {
		t.Error("later sink skipped after an error")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		opts Options
		name string
		err  error
	}{
		{Options{}, "display", nil},
		{Options{Kind: "null"}, "null", nil},
		{Options{Kind: "log"}, "log", nil},
		{Options{Kind: "file", Location: dir}, "file", nil},
		{Options{Kind: "display, null"}, "display+null", nil},
		{Options{Kind: "ws", Addr: "127.0.0.1:0"}, "ws", nil},
		{Options{Kind: "lcd"}, "", ErrKind},
		{Options{Kind: "null,file"}, "", storage.ErrLocation},
	}
	for _, tt := range tests {
		t.Run(tt.opts.Kind, func(t *testing.T) {
			s, err := Open(tt.opts)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err=%v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { s.Close() })
			if s.Name() != tt.name {
				t.Errorf("name=%q, want %q", s.Name(), tt.name)
			}
		})
	}
}
