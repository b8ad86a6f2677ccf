package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/vsi-examples/vsistream/pkg/app"
	"github.com/vsi-examples/vsistream/pkg/kv"
	"github.com/vsi-examples/vsistream/pkg/runlog"
)

// testKVOverride replaces the history store in tests.
var testKVOverride kv.Store

// openHistory opens the run history under the configuration directory.
// The returned close function must be called when done.
func openHistory() (*runlog.Log, func(), error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, nil, err
	}
	ttl, err := cfg.HistoryTTL()
	if err != nil {
		return nil, nil, err
	}
	if testKVOverride != nil {
		return runlog.New(testKVOverride, runlog.Options{TTL: ttl}), func() {}, nil
	}
	db, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.Paths().RunsDir(), Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("open run history: %w", err)
	}
	return runlog.New(db, runlog.Options{TTL: ttl}), func() { db.Close() }, nil
}

// newRecord converts a run report into a history record.
func newRecord(rep *app.Report, settings map[string]string, runErr error) *runlog.Record {
	r := &runlog.Record{
		Kind:        rep.Kind,
		Started:     rep.Started,
		Duration:    rep.Duration,
		Source:      rep.Source,
		Sink:        rep.Sink,
		Config:      settings,
		Delivered:   rep.Delivered,
		Overflows:   rep.Overflows,
		Dropped:     rep.Dropped,
		EndOfStream: rep.EndOfStream,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// saveRun stores a finished run unless history is disabled. Failures are
// logged, not returned.
func saveRun(ctx context.Context, noHistory bool, r *runlog.Record) {
	cfg, err := GetConfig()
	if err != nil || noHistory || !cfg.History.Enabled {
		return
	}
	h, closeFn, err := openHistory()
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
		return
	}
	defer closeFn()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.Save(ctx, r); err != nil {
		logger.Warn("save run", "error", err)
		return
	}
	logger.Debug("run saved", "id", r.ID)
}
