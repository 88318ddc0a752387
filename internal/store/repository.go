package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

// InitRepository writes the metadata row. It is idempotent: an existing row
// is left untouched and created is false.
func (s *Store) InitRepository(ctx context.Context, info model.RepositoryInfo) (created bool, err error) {
	if _, err := checksum.ParseAlgorithm(string(info.Algorithm)); err != nil {
		return false, fmt.Errorf("init repository: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO repository (id, name, algorithm, created_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, info.Name, string(info.Algorithm), toNanos(info.CreatedAt))
	if err != nil {
		return false, classify("init repository", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify("init repository: rows affected", err)
	}
	return n > 0, nil
}

// ReadRepository returns the metadata row, or a NotFound error for a
// database that was never initialized.
func (s *Store) ReadRepository(ctx context.Context) (model.RepositoryInfo, error) {
	var (
		info    model.RepositoryInfo
		algo    string
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, algorithm, created_at FROM repository WHERE id = 1
	`).Scan(&info.Name, &algo, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RepositoryInfo{}, notFound("read repository", "repository is not initialized")
	}
	if err != nil {
		return model.RepositoryInfo{}, classify("read repository", err)
	}
	info.Algorithm = checksum.Algorithm(algo)
	info.CreatedAt = fromNanos(created)

	info.SchemaVersion, err = s.SchemaVersion(ctx)
	if err != nil {
		return model.RepositoryInfo{}, err
	}
	return info, nil
}

// RenameRepository updates the display name.
func (s *Store) RenameRepository(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE repository SET name = ? WHERE id = 1`, name)
	if err != nil {
		return classify("rename repository", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return notFound("rename repository", "repository is not initialized")
	}
	return nil
}
