package store

import (
	"context"

	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

// WriteIndexRun records a finished indexing pass.
// Uses ON CONFLICT(id) DO NOTHING - run IDs are unique per pass.
func (s *Store) WriteIndexRun(ctx context.Context, run model.IndexRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_runs
		(id, root, device_id, started_at, finished_at,
		 scanned, matched, skipped_by_filter, skipped_by_error, skipped_symlinks,
		 new_files, new_incarnations, updated_incarnations, changed_digests, removed, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Root,
		run.DeviceID,
		toNanos(run.StartedAt),
		toNanos(run.FinishedAt),
		run.Scanned,
		run.Matched,
		run.SkippedByFilter,
		run.SkippedByError,
		run.SkippedSymlinks,
		run.NewFiles,
		run.NewIncarnations,
		run.UpdatedIncarnations,
		run.ChangedDigests,
		run.Removed,
		run.Cancelled,
	)
	if err != nil {
		return classify("write index run", err)
	}
	return nil
}

// ReadIndexRuns returns the most recent runs first, at most limit rows
// (limit <= 0 means all). Returns an empty slice (not nil) if none exist.
func (s *Store) ReadIndexRuns(ctx context.Context, limit int) ([]model.IndexRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root, device_id, started_at, finished_at,
		       scanned, matched, skipped_by_filter, skipped_by_error, skipped_symlinks,
		       new_files, new_incarnations, updated_incarnations, changed_digests, removed, cancelled
		FROM index_runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify("read index runs", err)
	}
	defer rows.Close()

	runs := []model.IndexRun{}
	for rows.Next() {
		var (
			run               model.IndexRun
			started, finished int64
		)
		err := rows.Scan(
			&run.ID,
			&run.Root,
			&run.DeviceID,
			&started,
			&finished,
			&run.Scanned,
			&run.Matched,
			&run.SkippedByFilter,
			&run.SkippedByError,
			&run.SkippedSymlinks,
			&run.NewFiles,
			&run.NewIncarnations,
			&run.UpdatedIncarnations,
			&run.ChangedDigests,
			&run.Removed,
			&run.Cancelled,
		)
		if err != nil {
			return nil, classify("read index runs: scan", err)
		}
		run.StartedAt = fromNanos(started)
		run.FinishedAt = fromNanos(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read index runs: iterate", err)
	}
	return runs, nil
}
