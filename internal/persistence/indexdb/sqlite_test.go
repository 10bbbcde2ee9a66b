package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	persistlog "gadgetgrid/internal/persistence/log"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/tuning"
)

func openTemp(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index", "gadgetgrid.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return idx, dbPath
}

func TestSQLiteIndex_SavesNewestFirst(t *testing.T) {
	ctx := context.Background()
	idx, _ := openTemp(t)
	defer idx.Close()

	for _, step := range []uint64{10, 30, 20} {
		if err := idx.RecordSave(ctx, SaveRecord{PuzzleID: "p1", Step: step, Path: "/saves/p1.snap.zst", Gadgets: 3, Defs: 2}); err != nil {
			t.Fatalf("RecordSave: %v", err)
		}
	}
	if err := idx.RecordSave(ctx, SaveRecord{PuzzleID: "p2", Step: 99, Path: "/saves/p2.snap.zst"}); err != nil {
		t.Fatalf("RecordSave: %v", err)
	}

	latest, ok, err := idx.LatestSave(ctx, "p1")
	if err != nil || !ok {
		t.Fatalf("LatestSave: ok=%v err=%v", ok, err)
	}
	if latest.Step != 30 || latest.Gadgets != 3 || latest.CreatedAt == "" {
		t.Fatalf("latest = %+v", latest)
	}
	saves, err := idx.ListSaves(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("ListSaves: %v", err)
	}
	if len(saves) != 3 || saves[1].Step != 20 || saves[2].Step != 10 {
		t.Fatalf("saves = %+v", saves)
	}
	if _, ok, _ := idx.LatestSave(ctx, "nope"); ok {
		t.Fatalf("unexpected save for unknown puzzle")
	}
	if err := idx.RecordSave(ctx, SaveRecord{PuzzleID: "p1"}); err == nil {
		t.Fatalf("expected error for a save without a path")
	}
}

func TestSQLiteIndex_StepsFlushOnClose(t *testing.T) {
	idx, dbPath := openTemp(t)
	for i := uint64(1); i <= 5; i++ {
		idx.WriteStep("p1", persistlog.StepEntry{Step: i, Kind: "INPUT", OK: true, Moved: i%2 == 0})
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Writes after close are ignored.
	idx.WriteStep("p1", persistlog.StepEntry{Step: 6})

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var n, moved int
	if err := db.QueryRow(`SELECT COUNT(*), SUM(moved) FROM steps WHERE puzzle_id='p1'`).Scan(&n, &moved); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 5 || moved != 2 {
		t.Fatalf("steps=%d moved=%d", n, moved)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStep}

	s.WriteStep("p1", persistlog.StepEntry{Step: 2})
	if err := s.RecordSave(context.Background(), SaveRecord{PuzzleID: "p1", Path: "x"}); err == nil {
		t.Fatalf("expected queue full error")
	}

	st := s.Stats()
	if st.DropStepTotal != 1 || st.DropSaveTotal != 1 {
		t.Fatalf("drops = %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	ctx := context.Background()
	idx, _ := openTemp(t)
	defer idx.Close()

	cats := catalogs.Builtin()
	if err := idx.UpsertCatalogs(ctx, cats, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	d, ok, err := idx.CatalogDigest(ctx, "gadgets")
	if err != nil || !ok || d != cats.Gadgets.Digest {
		t.Fatalf("digest = %q ok=%v err=%v", d, ok, err)
	}
	want, err := tuning.Defaults().Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d, ok, _ := idx.CatalogDigest(ctx, "tuning"); !ok || d != want {
		t.Fatalf("tuning digest = %q ok=%v", d, ok)
	}
	if _, ok, _ := idx.CatalogDigest(ctx, "blocks"); ok {
		t.Fatalf("unexpected catalog row")
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	s.WriteStep("p1", persistlog.StepEntry{})
	if err := s.RecordSave(context.Background(), SaveRecord{}); err != nil {
		t.Fatalf("nil RecordSave: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
