package blob_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"evcal/internal/blob"
)

func exercise(t *testing.T, s blob.Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "calendar-events"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "calendar-events", []byte(`[]`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "calendar-events", []byte(`[{"title":"x"}]`)); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(ctx, "calendar-events")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if string(got) != `[{"title":"x"}]` {
		t.Errorf("Get = %s, want last write", got)
	}

	if _, ok, _ := s.Get(ctx, "other"); ok {
		t.Error("unrelated key reported present")
	}
}

func TestMemoryStore(t *testing.T) {
	exercise(t, blob.NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := blob.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	exercise(t, s)

	info, err := os.Stat(filepath.Join(dir, "calendar-events.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	s, err := blob.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(context.Background(), "../escape", []byte("x")); err == nil {
		t.Error("expected error for key with path separator")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := blob.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestNewSQLiteStoreOnOpenDB(t *testing.T) {
	raw, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	raw.SetMaxOpenConns(1)
	db := bun.NewDB(raw, sqlitedialect.New())
	defer db.Close()

	s, err := blob.NewSQLiteStore(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	exercise(t, s)

	var n int
	if err := db.NewSelect().Table("blobs").ColumnExpr("count(*)").Scan(context.Background(), &n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("blobs rows = %d, want 1", n)
	}
}

func TestSQLiteStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evcal.db")
	ctx := context.Background()

	s, err := blob.Open(ctx, blob.BackendSQLite, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = blob.Open(ctx, blob.BackendSQLite, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v1" {
		t.Errorf("reopen Get = %q ok=%v err=%v", got, ok, err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := blob.Open(context.Background(), "redis", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}
