package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ziadkadry99/chatdiagram/internal/db"
	"github.com/ziadkadry99/chatdiagram/internal/render"
)

func newTestStore(t *testing.T, maxAge time.Duration) *Store {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d, maxAge)
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	if _, _, ok := s.Get(ctx, "missing"); ok {
		t.Fatal("expected miss")
	}
	if err := s.Put(ctx, "k", "<svg/>", render.StateRemote); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	svg, st, ok := s.Get(ctx, "k")
	if !ok || svg != "<svg/>" || st != render.StateRemote {
		t.Fatalf("unexpected entry %q %s %v", svg, st, ok)
	}

	// Overwrite keeps one row.
	if err := s.Put(ctx, "k", "<svg id=\"2\"/>", render.StateRendered); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Entries != 1 || stats.Hits != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestPutSkipsRaw(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	if err := s.Put(ctx, "k", "<pre>x</pre>", render.StateRaw); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, _, ok := s.Get(ctx, "k"); ok {
		t.Error("expected raw artifact not to be cached")
	}
}

func TestExpiredEntriesIgnoredAndPruned(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour).UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO render_cache (key, state, svg, created_at) VALUES ('old', 'rendered', '<svg/>', ?)`, old,
	); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if _, _, ok := s.Get(ctx, "old"); ok {
		t.Error("expected expired entry to be ignored")
	}
	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
}
