// Package sink is where delivered frames and sample blocks go: the emulated
// LCD, a file or bucket, a WebSocket viewer, the log, or nowhere.
//
// Every destination implements Sink. Applications pick one at
// configuration time with Open and never branch on the kind afterwards.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vsi-examples/vsistream/pkg/storage"
)

var (
	// ErrBounds is returned when a frame does not fit the display.
	ErrBounds = errors.New("sink: frame out of bounds")
	// ErrChannels is returned for a channel count the sink cannot render.
	ErrChannels = errors.New("sink: unsupported channel count")
	// ErrShort is returned when Data holds fewer bytes than the geometry.
	ErrShort = errors.New("sink: short frame")
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("sink: closed")
	// ErrKind is returned by Open for an unknown sink kind.
	ErrKind = errors.New("sink: unknown kind")
)

// Frame is one block handed to a sink. Width, Height and Channels describe
// image frames; sample blocks leave them zero. X, Y and Scale place the
// frame on a display; Scale 0 means 1.
type Frame struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
	X, Y     int
	Scale    int
	Seq      uint64
	Time     time.Time
}

func (f Frame) scale() int { return max(f.Scale, 1) }

// Sink consumes frames. Write must not retain f.Data after it returns.
type Sink interface {
	Write(ctx context.Context, f Frame) error
	Close() error
	Name() string
}

// Sink kinds accepted by Open.
const (
	KindDisplay   = "display"
	KindFile      = "file"
	KindNull      = "null"
	KindLog       = "log"
	KindWebSocket = "ws"
)

// Options selects and configures sinks for Open.
type Options struct {
	// Kind is a sink kind or a comma-separated list of kinds, which opens
	// a Multi.
	Kind string

	// Location is the storage location of the file sink (see storage.Open).
	Location string
	// Path is the object written by the file sink. Empty uses
	// DefaultFilePath.
	Path string
	// PerFrame makes the file sink write one object per frame.
	PerFrame bool

	// Addr is the listen address of the WebSocket sink.
	Addr string

	// Level is the log level of the log sink.
	Level slog.Level

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Open builds the sinks named by opts.Kind.
func Open(opts Options) (Sink, error) {
	kinds := strings.Split(opts.Kind, ",")
	var sinks []Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}
	for _, kind := range kinds {
		s, err := open(strings.TrimSpace(kind), opts)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMulti(sinks...), nil
}

func open(kind string, opts Options) (Sink, error) {
	switch kind {
	case KindDisplay, "":
		return NewDisplay(DisplayOptions{Logger: opts.Logger}), nil
	case KindFile:
		fs, err := storage.Open(opts.Location)
		if err != nil {
			return nil, fmt.Errorf("sink: file: %w", err)
		}
		return NewFileWriter(FileOptions{Store: fs, Path: opts.Path, PerFrame: opts.PerFrame}), nil
	case KindNull:
		return &Null{}, nil
	case KindLog:
		return NewLog(opts.Logger, opts.Level), nil
	case KindWebSocket, "websocket":
		return NewWebSocket(WebSocketOptions{Addr: opts.Addr, Logger: opts.Logger})
	default:
		return nil, fmt.Errorf("%w: %q", ErrKind, kind)
	}
}

// Multi writes every frame to several sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti fans out to sinks in order.
func NewMulti(sinks ...Sink) *Multi { return &Multi{sinks: sinks} }

// Sinks returns the wrapped sinks.
func (m *Multi) Sinks() []Sink { return m.sinks }

// Write writes f to every sink, even when an earlier one fails.
func (m *Multi) Write(ctx context.Context, f Frame) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (m *Multi) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}
