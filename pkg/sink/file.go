package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/vsi-examples/vsistream/pkg/storage"
)

// DefaultFilePath is the object written by a FileWriter with no Path.
const DefaultFilePath = "frames.raw"

// FileOptions configures a FileWriter.
type FileOptions struct {
	Store storage.FileStore

	// Path is the object that receives all frames, or with PerFrame a
	// fmt pattern taking the frame sequence number, e.g. "f-%06d.raw".
	Path string

	// PerFrame writes every frame to its own object.
	PerFrame bool
}

// FileWriter records raw frame bytes into a storage.FileStore.
type FileWriter struct {
	store    storage.FileStore
	path     string
	perFrame bool

	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
	bytes  int64
}

// NewFileWriter creates a FileWriter. Nothing is created until the first
// Write.
func NewFileWriter(opts FileOptions) *FileWriter {
	path := opts.Path
	if path == "" {
		path = DefaultFilePath
		if opts.PerFrame {
			path = "frame-%06d.raw"
		}
	}
	return &FileWriter{store: opts.Store, path: path, perFrame: opts.PerFrame}
}

func (fw *FileWriter) Name() string { return KindFile }

// Write appends f.Data to the recording, or stores it as its own object.
func (fw *FileWriter) Write(ctx context.Context, f Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return ErrClosed
	}
	if fw.perFrame {
		path := fmt.Sprintf(fw.path, f.Seq)
		if err := storage.WriteFile(ctx, fw.store, path, f.Data); err != nil {
			return fmt.Errorf("sink: file: %w", err)
		}
		fw.bytes += int64(len(f.Data))
		return nil
	}
	if fw.w == nil {
		// The recording outlives the context of its first frame.
		w, err := fw.store.Write(context.WithoutCancel(ctx), fw.path)
		if err != nil {
			return fmt.Errorf("sink: file: open %s: %w", fw.path, err)
		}
		fw.w = w
	}
	n, err := fw.w.Write(f.Data)
	fw.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("sink: file: write %s: %w", fw.path, err)
	}
	return nil
}

// Bytes returns the number of bytes written.
func (fw *FileWriter) Bytes() int64 {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.bytes
}

// Close finishes the recording.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return nil
	}
	fw.closed = true
	if fw.w == nil {
		return nil
	}
	return fw.w.Close()
}
