// Package runlog keeps a history of CLI runs in a kv.Store. Each run is a
// msgpack-encoded Record under runs:<kind>:<id>. IDs are UUIDv7, so key
// order is start order.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vsi-examples/vsistream/pkg/kv"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("runlog: run not found")

// Run kinds.
const (
	KindVideo  = "video"
	KindSensor = "sensor"
)

const root = "runs"

// Record is one finished run.
type Record struct {
	ID       string            `json:"id" yaml:"id" msgpack:"id"`
	Kind     string            `json:"kind" yaml:"kind" msgpack:"kind"`
	Started  time.Time         `json:"started" yaml:"started" msgpack:"started"`
	Duration time.Duration     `json:"duration" yaml:"duration" msgpack:"duration"`
	Source   string            `json:"source,omitempty" yaml:"source,omitempty" msgpack:"source,omitempty"`
	Sink     string            `json:"sink,omitempty" yaml:"sink,omitempty" msgpack:"sink,omitempty"`
	Config   map[string]string `json:"config,omitempty" yaml:"config,omitempty" msgpack:"config,omitempty"`

	Delivered   uint64 `json:"delivered" yaml:"delivered" msgpack:"delivered"`
	Overflows   uint64 `json:"overflows" yaml:"overflows" msgpack:"overflows"`
	Dropped     uint64 `json:"dropped" yaml:"dropped" msgpack:"dropped"`
	EndOfStream bool   `json:"end_of_stream" yaml:"end_of_stream" msgpack:"eos"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty" msgpack:"error,omitempty"`
}

// Options configures a Log.
type Options struct {
	// TTL expires records after this long. Zero keeps them forever.
	TTL time.Duration
}

// Log stores and queries run records.
type Log struct {
	store kv.Store
	ttl   time.Duration
}

// New creates a Log over store.
func New(store kv.Store, opts Options) *Log {
	return &Log{store: store, ttl: opts.TTL}
}

// NewID returns a new time-ordered run ID.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func key(kind, id string) kv.Key { return kv.Key{root, kind, id} }

// Save stores r, assigning an ID if it has none.
func (l *Log) Save(ctx context.Context, r *Record) error {
	if r.Kind == "" {
		return errors.New("runlog: record has no kind")
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	data, err := msgpack.Marshal(r)
	if err != nil {
		return fmt.Errorf("runlog: encode %s: %w", r.ID, err)
	}
	return l.store.Set(ctx, key(r.Kind, r.ID), data, l.ttl)
}

// Get returns the run with the given ID, whatever its kind.
func (l *Log) Get(ctx context.Context, id string) (*Record, error) {
	for _, kind := range []string{KindVideo, KindSensor} {
		data, err := l.store.Get(ctx, key(kind, id))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var r Record
		if err := msgpack.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("runlog: decode %s: %w", id, err)
		}
		return &r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns runs newest first. An empty kind lists every kind; n <= 0
// means no limit. Undecodable records are skipped.
func (l *Log) List(ctx context.Context, kind string, n int) ([]Record, error) {
	prefix := kv.Key{root}
	if kind != "" {
		prefix = append(prefix, kind)
	}
	var out []Record
	for e, err := range l.store.List(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		var r Record
		if err := msgpack.Unmarshal(e.Value, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Record) int { return b.Started.Compare(a.Started) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Delete removes one run.
func (l *Log) Delete(ctx context.Context, id string) error {
	r, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	return l.store.Delete(ctx, key(r.Kind, r.ID))
}

// Prune removes every run of kind (every run when kind is empty) and
// returns how many were removed.
func (l *Log) Prune(ctx context.Context, kind string) (int, error) {
	recs, err := l.List(ctx, kind, 0)
	if err != nil {
		return 0, err
	}
	keys := make([]kv.Key, len(recs))
	for i, r := range recs {
		keys[i] = key(r.Kind, r.ID)
	}
	if err := l.store.BatchDelete(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
