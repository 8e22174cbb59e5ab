package store

import (
	"context"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 6 {
		t.Errorf("SchemaVersion = %d, want 6", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "memory_nodes", "memory_relationships",
		"memory_tags", "consolidation_log", "pack_metadata", "jobs"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMemoryNodesConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO memory_nodes (id, content, category, importance, created_at)
		VALUES ('n1', 'ok', 'fact', 0.5, 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO memory_nodes (id, content, category, importance, created_at)
		VALUES ('n2', 'too important', 'fact', 1.5, 1000)
	`)
	if err == nil {
		t.Error("expected error for importance > 1, got nil")
	}
}

func TestJobsConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`INSERT INTO jobs (id, type, status, created_at) VALUES ('j1', 'ingest', 'pending', 1000)`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}
	_, err = db.Exec(`INSERT INTO jobs (id, type, status, created_at) VALUES ('j2', 'ingest', 'bogus', 1000)`)
	if err == nil {
		t.Error("expected error for invalid status, got nil")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 6 {
		t.Errorf("SchemaVersion after re-migrate = %d, want 6", v)
	}
}

func TestWALMode(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "shared.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestPackJournalMode(t *testing.T) {
	db, err := OpenWith(filepath.Join(t.TempDir(), "pack.db"), Options{JournalMode: "DELETE"})
	if err != nil {
		t.Fatalf("OpenWith: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "delete" {
		t.Errorf("journal_mode = %q, want delete", mode)
	}
}

func TestOpenReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pack.db")

	rw, err := OpenWith(path, Options{JournalMode: "DELETE"})
	if err != nil {
		t.Fatalf("OpenWith: %v", err)
	}
	if _, err := rw.Unscoped().StoreNode(ctx, NodeInput{Content: "hello", Category: CategoryFact}); err != nil {
		t.Fatalf("StoreNode: %v", err)
	}
	rw.Close()

	ro, err := OpenWith(path, Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("OpenWith read-only: %v", err)
	}
	defer ro.Close()

	st, err := ro.Unscoped().Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Nodes != 1 {
		t.Errorf("nodes = %d, want 1", st.Nodes)
	}

	if _, err := ro.Unscoped().StoreNode(ctx, NodeInput{Content: "nope", Category: CategoryFact}); err == nil {
		t.Error("expected write to read-only pack to fail")
	}
}

func TestOpenReadOnlyMissing(t *testing.T) {
	if _, err := OpenWith(filepath.Join(t.TempDir(), "missing.db"), Options{ReadOnly: true}); err == nil {
		t.Error("expected error opening missing file read-only")
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestConsolidationLogAppendOnly(t *testing.T) {
	db := testDB(t)
	s := db.Unscoped()
	ctx := context.Background()

	entry, err := s.AppendLog(ctx, ActionForget, []string{"a"}, LogDetails{Reason: "test"})
	if err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	if _, err := db.Exec(`UPDATE consolidation_log SET action = 'x' WHERE id = ?`, entry.ID); err == nil {
		t.Error("expected update of consolidation_log to fail")
	}
	if _, err := db.Exec(`DELETE FROM consolidation_log WHERE id = ?`, entry.ID); err == nil {
		t.Error("expected delete from consolidation_log to fail")
	}
}
