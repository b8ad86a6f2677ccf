// Package kv is the small key-value layer behind the run history. Keys are
// paths of segments such as {"runs", "video", "<id>"} joined with ':'.
//
// Badger persists to a directory; Memory is for tests and for runs that
// should leave nothing behind.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("kv: not found")

// Separator joins key segments. Segments must not contain it.
const Separator = ':'

// Key is a hierarchical key.
type Key []string

func (k Key) String() string { return strings.Join(k, string(Separator)) }

func (k Key) encode() []byte { return []byte(k.String()) }

// prefix returns the encoded key followed by the separator, so {"a","b"}
// does not match "a:bc". An empty key matches everything.
func (k Key) prefix() []byte {
	if len(k) == 0 {
		return nil
	}
	return append(k.encode(), Separator)
}

func decode(b []byte) Key { return Key(strings.Split(string(b), string(Separator))) }

// Entry is one key-value pair yielded by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with hierarchical keys.
type Store interface {
	// Get returns the value of key or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key. A positive ttl expires the entry.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key Key) error

	// List yields the entries below prefix in key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchDelete removes several keys at once.
	BatchDelete(ctx context.Context, keys []Key) error

	Close() error
}
