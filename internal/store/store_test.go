package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellisbugfree/filing-cabinet/internal/fault"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabinet.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabinet.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM incarnations").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabinet.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"repository", "files", "incarnations", "config", "index_runs"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPathIsStoreUnavailable(t *testing.T) {
	_, err := Open("/nonexistent/dir/cabinet.db")
	require.Error(t, err)
	assert.True(t, fault.IsStoreUnavailable(err), "got %v", err)
}

func TestOpen_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabinet.db")
	junk := make([]byte, 4096)
	for i := range junk {
		junk[i] = byte(i*7 + 3)
	}
	require.NoError(t, os.WriteFile(path, junk, 0o644))

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, fault.IsStoreUnavailable(err), "got %v", err)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabinet.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	s.Close()

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClosedStore_IsStoreUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabinet.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.CountFiles(context.Background())
	require.Error(t, err)
	assert.True(t, fault.IsStoreUnavailable(err), "got %v", err)
}

func TestSchemaVersion(t *testing.T) {
	s := createTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	s := createTestStore(t)
	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

// Schema tests

func TestSchema_IncarnationsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "incarnations")
	expected := []string{
		"id", "device_id", "path", "kind", "digest", "target",
		"first_seen_at", "last_seen_at", "last_verified_at",
	}
	for _, col := range expected {
		if !slices.Contains(columns, col) {
			t.Errorf("incarnations table missing column %q", col)
		}
	}
}

func TestSchema_IncarnationsIndexes(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "incarnations")
	for _, idx := range []string{"idx_incarnations_digest", "idx_incarnations_device_seen"} {
		if !slices.Contains(indexes, idx) {
			t.Errorf("incarnations table missing index %q", idx)
		}
	}
}

func TestConstraint_IncarnationDigestReferencesFile(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO incarnations (device_id, path, kind, digest, first_seen_at, last_seen_at, last_verified_at)
		VALUES ('dev', '/a', 'file', 'sha256:missing', 1, 1, 1)
	`)
	if err == nil {
		t.Error("expected foreign key violation for unknown digest")
	}
}

func TestConstraint_UniqueDevicePath(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureFile(ctx, digestA, 1, testTime)
	require.NoError(t, err)

	insert := `
		INSERT INTO incarnations (device_id, path, kind, digest, first_seen_at, last_seen_at, last_verified_at)
		VALUES ('dev', '/a', 'file', ?, 1, 1, 1)
	`
	_, err = s.db.Exec(insert, string(digestA))
	require.NoError(t, err)
	_, err = s.db.Exec(insert, string(digestA))
	assert.Error(t, err, "raw duplicate insert must violate UNIQUE(device_id, path)")
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
