package runlog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vsi-examples/vsistream/pkg/kv"
	"github.com/vsi-examples/vsistream/pkg/runlog"
)

func TestLog(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	t.Cleanup(func() { store.Close() })
	l := runlog.New(store, runlog.Options{})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []*runlog.Record{
		{Kind: runlog.KindVideo, Started: base, Delivered: 30, Config: map[string]string{"format": "rgb888"}},
		{Kind: runlog.KindSensor, Started: base.Add(time.Minute), Delivered: 8},
		{Kind: runlog.KindVideo, Started: base.Add(2 * time.Minute), Overflows: 2, EndOfStream: true},
	}
	for _, r := range recs {
		if err := l.Save(ctx, r); err != nil {
			t.Fatal(err)
		}
		if r.ID == "" {
			t.Fatal("no ID assigned")
		}
	}

	got, err := l.Get(ctx, recs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Delivered != 30 || got.Config["format"] != "rgb888" || !got.Started.Equal(base) {
		t.Errorf("get=%+v", got)
	}

	all, err := l.List(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != recs[2].ID || all[2].ID != recs[0].ID {
		t.Errorf("list order: %v", all)
	}
	videos, _ := l.List(ctx, runlog.KindVideo, 1)
	if len(videos) != 1 || videos[0].ID != recs[2].ID {
		t.Errorf("video list: %v", videos)
	}

	if err := l.Delete(ctx, recs[1].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Get(ctx, recs[1].ID); !errors.Is(err, runlog.ErrNotFound) {
		t.Errorf("deleted: %v", err)
	}
	if err := l.Delete(ctx, "nope"); !errors.Is(err, runlog.ErrNotFound) {
		t.Errorf("delete unknown: %v", err)
	}

	n, err := l.Prune(ctx, runlog.KindVideo)
	if err != nil || n != 2 {
		t.Errorf("prune=%d err=%v", n, err)
	}
	if all, _ := l.List(ctx, "", 0); len(all) != 0 {
		t.Errorf("left %v", all)
	}
}

func TestSaveRequiresKind(t *testing.T) {
	l := runlog.New(kv.NewMemory(), runlog.Options{})
	if err := l.Save(context.Background(), &runlog.Record{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewIDOrdered(t *testing.T) {
	a := runlog.NewID()
	time.Sleep(2 * time.Millisecond)
	b := runlog.NewID()
	if !(a < b) {
		t.Errorf("%s !< %s", a, b)
	}
}
