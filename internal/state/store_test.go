package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clipcast/internal/topics"
	"clipcast/pkg/logx"
)

func testSnapshot() Snapshot {
	return Snapshot{
		Uploads: []time.Time{
			time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
		},
		TopicUsage: map[string]topics.Usage{
			"a": {UseCount: 2, LastUsedAt: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)},
			"b": {UseCount: 1, LastUsedAt: time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC)},
		},
	}
}

func assertSnapshot(t *testing.T, got Snapshot) {
	t.Helper()
	want := testSnapshot()
	if len(got.Uploads) != len(want.Uploads) {
		t.Fatalf("uploads: got %d, want %d", len(got.Uploads), len(want.Uploads))
	}
	for i := range want.Uploads {
		if !got.Uploads[i].Equal(want.Uploads[i]) {
			t.Fatalf("upload %d: got %v, want %v", i, got.Uploads[i], want.Uploads[i])
		}
	}
	if len(got.TopicUsage) != 2 {
		t.Fatalf("topic usage: %+v", got.TopicUsage)
	}
	if got.TopicUsage["a"].UseCount != 2 || !got.TopicUsage["a"].LastUsedAt.Equal(want.TopicUsage["a"].LastUsedAt) {
		t.Fatalf("topic a: %+v", got.TopicUsage["a"])
	}
}

func runStoreRoundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := st.LoadChannel(ctx, "main"); err != nil || found {
		t.Fatalf("fresh store: found=%v err=%v", found, err)
	}

	if err := st.SaveChannel(ctx, "main", testSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := st.LoadChannel(ctx, "main")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	assertSnapshot(t, got)

	// Overwrite shrinks state; no stale rows may survive.
	if err := st.SaveChannel(ctx, "main", Snapshot{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, err = st.LoadChannel(ctx, "main")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Uploads) != 0 || len(got.TopicUsage) != 0 {
		t.Fatalf("stale state after overwrite: %+v", got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	runStoreRoundTrip(t, st)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	runStoreRoundTrip(t, st)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.SaveChannel(context.Background(), "main", testSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, found, err := st2.LoadChannel(context.Background(), "main")
	if err != nil || !found {
		t.Fatalf("load after reopen: found=%v err=%v", found, err)
	}
	assertSnapshot(t, got)
}

func TestFileStoreIgnoresCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if err := os.WriteFile(filepath.Join(dir, "main.state.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	_, found, err := st.LoadChannel(context.Background(), "main")
	if err != nil || found {
		t.Fatalf("corrupt snapshot must read as absent: found=%v err=%v", found, err)
	}
}

func TestOpenNoneDriver(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("none driver: st=%v err=%v", st, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
