// Package storage is where recordings and snapshots end up: raw frame
// dumps written by the file sink, PNG snapshots of the emulated display and
// exported run reports.
//
// A FileStore is either a local directory or an S3 bucket prefix. Open
// picks one from a location string so that sinks and commands only ever see
// the interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrLocation is returned by Open for a location it cannot parse.
var ErrLocation = errors.New("storage: invalid location")

// FileStore reads and writes named objects.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named object. A missing object yields an error
	// wrapping os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write creates or truncates the named object. Data is durable once the
	// returned writer is closed.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named object exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the paths that start with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open returns the FileStore for a location:
//
//	/var/lib/vsistream/out      local directory
//	file:///var/lib/vsistream   local directory
//	s3://bucket/prefix          S3 bucket, optional ?region=&endpoint=
//
// S3 credentials come from the standard AWS environment variables.
func Open(location string) (FileStore, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: empty", ErrLocation)
	}
	if !strings.Contains(location, "://") {
		return NewLocal(location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocation, err)
	}
	switch u.Scheme {
	case "file":
		return NewLocal(u.Path)
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %s: missing bucket", ErrLocation, location)
		}
		q := u.Query()
		client := NewS3Client(S3Config{
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		})
		return NewS3(client, u.Host, strings.Trim(u.Path, "/")), nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrLocation, u.Scheme)
	}
}

// WriteFile writes data to path in one call.
func WriteFile(ctx context.Context, fs FileStore, path string, data []byte) error {
	w, err := fs.Write(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ReadFile reads the whole object at path.
func ReadFile(ctx context.Context, fs FileStore, path string) ([]byte, error) {
	r, err := fs.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
