package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// logHead is how many leading bytes a Log sink prints.
const logHead = 8

// Log writes a one-line summary of every frame to a logger.
type Log struct {
	logger *slog.Logger
	level  slog.Level
	n      atomic.Uint64
}

// NewLog creates a Log sink writing at level. A nil logger uses
// slog.Default().
func NewLog(logger *slog.Logger, level slog.Level) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, level: level}
}

func (l *Log) Name() string { return KindLog }

func (l *Log) Write(ctx context.Context, f Frame) error {
	l.n.Add(1)
	head := f.Data[:min(len(f.Data), logHead)]
	attrs := []any{"seq", f.Seq, "bytes", len(f.Data), "head", fmt.Sprintf("% x", head)}
	if f.Width > 0 {
		attrs = append(attrs, "size", fmt.Sprintf("%dx%dx%d", f.Width, f.Height, f.Channels))
	}
	l.logger.Log(ctx, l.level, "sink: frame", attrs...)
	return nil
}

// Count returns the number of frames logged.
func (l *Log) Count() uint64 { return l.n.Load() }

func (l *Log) Close() error { return nil }

// Null discards frames and counts them.
type Null struct {
	frames atomic.Uint64
	bytes  atomic.Uint64
}

func (n *Null) Name() string { return KindNull }

func (n *Null) Write(_ context.Context, f Frame) error {
	n.frames.Add(1)
	n.bytes.Add(uint64(len(f.Data)))
	return nil
}

// Frames returns the number of frames discarded.
func (n *Null) Frames() uint64 { return n.frames.Load() }

// Bytes returns the number of bytes discarded.
func (n *Null) Bytes() uint64 { return n.bytes.Load() }

func (n *Null) Close() error { return nil }
