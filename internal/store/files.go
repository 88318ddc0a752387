package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureFile inserts the File row for digest unless it exists.
// Uses ON CONFLICT(digest) DO NOTHING: File rows are immutable once written.
func ensureFile(ctx context.Context, db execer, digest checksum.Digest, size int64, at int64) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO files (digest, size, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(digest) DO NOTHING
	`, string(digest), size, at)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EnsureFile records digest as known content. Returns true if the row is new.
func (s *Store) EnsureFile(ctx context.Context, digest checksum.Digest, size int64, at time.Time) (bool, error) {
	inserted, err := ensureFile(ctx, s.db, digest, size, toNanos(at))
	if err != nil {
		return false, classify("ensure file", err)
	}
	return inserted, nil
}

// MarkStored records that the canonical blob for digest exists. The File
// row is created if needed. stored_at is set only once; firstStore reports
// whether this call set it.
func (s *Store) MarkStored(ctx context.Context, digest checksum.Digest, size int64, at time.Time) (firstStore bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify("mark stored: begin tx", err)
	}
	defer tx.Rollback()

	if _, err := ensureFile(ctx, tx, digest, size, toNanos(at)); err != nil {
		return false, classify("mark stored", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE files SET stored_at = ?
		WHERE digest = ? AND stored_at IS NULL
	`, toNanos(at), string(digest))
	if err != nil {
		return false, classify("mark stored: update", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify("mark stored: rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return false, classify("mark stored: commit", err)
	}
	return n > 0, nil
}

// ReadFile returns the File row for digest, or a NotFound error.
func (s *Store) ReadFile(ctx context.Context, digest checksum.Digest) (model.File, error) {
	var (
		f       model.File
		d       string
		created int64
		stored  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, size, created_at, stored_at FROM files WHERE digest = ?
	`, string(digest)).Scan(&d, &f.Size, &created, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return model.File{}, notFound("read file", "no file with digest %s", digest)
	}
	if err != nil {
		return model.File{}, classify("read file", err)
	}
	f.Digest = checksum.Digest(d)
	f.CreatedAt = fromNanos(created)
	f.StoredAt = fromNullableNanos(stored)
	return f, nil
}

// CountFiles returns the number of known digests.
func (s *Store) CountFiles(ctx context.Context) (int64, error) {
	return s.count(ctx, "count files", `SELECT COUNT(*) FROM files`)
}

// CountStoredFiles returns the number of digests with a canonical blob.
func (s *Store) CountStoredFiles(ctx context.Context) (int64, error) {
	return s.count(ctx, "count stored files", `SELECT COUNT(*) FROM files WHERE stored_at IS NOT NULL`)
}

// StoredDigests returns the digests of all checked-in Files, sorted.
func (s *Store) StoredDigests(ctx context.Context) ([]checksum.Digest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT digest FROM files
		WHERE stored_at IS NOT NULL
		ORDER BY digest COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, classify("stored digests", err)
	}
	defer rows.Close()

	digests := []checksum.Digest{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, classify("stored digests: scan", err)
		}
		digests = append(digests, checksum.Digest(d))
	}
	if err := rows.Err(); err != nil {
		return nil, classify("stored digests: iterate", err)
	}
	return digests, nil
}

func (s *Store) count(ctx context.Context, op, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}
