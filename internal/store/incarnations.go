package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

// pageSize bounds how many rows a lazy listing holds in memory at once.
const pageSize = 256

const selectIncarnation = `
	SELECT i.id, i.device_id, i.path, i.kind, i.digest, f.size, i.target,
	       i.first_seen_at, i.last_seen_at, i.last_verified_at
	FROM incarnations i
	JOIN files f ON f.digest = i.digest`

// Sighting is one observation of content at a location, the input to
// UpsertIncarnation.
type Sighting struct {
	DeviceID string
	Path     string
	Kind     model.Kind
	Digest   checksum.Digest
	Size     int64
	Target   string
	At       time.Time
}

// UpsertOutcome reports what UpsertIncarnation changed.
type UpsertOutcome struct {
	ID int64

	// Inserted is true when (device_id, path) was not known before.
	Inserted bool

	// FileInserted is true when the digest was not known before.
	FileInserted bool

	// PreviousDigest is the digest the location held before this upsert
	// when it differs from the new one (content replaced in place).
	PreviousDigest checksum.Digest
}

// DigestChanged reports whether an existing incarnation now holds different
// content.
func (o UpsertOutcome) DigestChanged() bool {
	return o.PreviousDigest != ""
}

// UpsertIncarnation records that sg.Digest lives at (sg.DeviceID, sg.Path).
//
// A new location is inserted with all three timestamps set to sg.At. A known
// location is updated in place: digest, kind, target and last_seen_at are
// refreshed while first_seen_at and last_verified_at are kept; only
// TouchVerified advances the latter. The referenced File row is created if missing.
// Everything happens in one transaction, so a row is never half-applied.
func (s *Store) UpsertIncarnation(ctx context.Context, sg Sighting) (UpsertOutcome, error) {
	if sg.DeviceID == "" || sg.Path == "" {
		return UpsertOutcome{}, fmt.Errorf("upsert incarnation: device id and path are required")
	}
	if _, err := model.ParseKind(string(sg.Kind)); err != nil {
		return UpsertOutcome{}, fmt.Errorf("upsert incarnation: %w", err)
	}
	at := toNanos(sg.At)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertOutcome{}, classify("upsert incarnation: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	var out UpsertOutcome
	out.FileInserted, err = ensureFile(ctx, tx, sg.Digest, sg.Size, at)
	if err != nil {
		return UpsertOutcome{}, classify("upsert incarnation", err)
	}

	var prev string
	err = tx.QueryRowContext(ctx, `
		SELECT id, digest FROM incarnations
		WHERE device_id = ? AND path = ?
	`, sg.DeviceID, sg.Path).Scan(&out.ID, &prev)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx, `
			INSERT INTO incarnations
			(device_id, path, kind, digest, target, first_seen_at, last_seen_at, last_verified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sg.DeviceID, sg.Path, string(sg.Kind), string(sg.Digest), sg.Target, at, at, at)
		if err != nil {
			return UpsertOutcome{}, classify("upsert incarnation: insert", err)
		}
		out.ID, err = result.LastInsertId()
		if err != nil {
			return UpsertOutcome{}, classify("upsert incarnation: last insert id", err)
		}
		out.Inserted = true

	case err != nil:
		return UpsertOutcome{}, classify("upsert incarnation: select existing", err)

	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE incarnations
			SET kind = ?, digest = ?, target = ?, last_seen_at = ?
			WHERE id = ?
		`, string(sg.Kind), string(sg.Digest), sg.Target, at, out.ID)
		if err != nil {
			return UpsertOutcome{}, classify("upsert incarnation: update", err)
		}
		if prev != string(sg.Digest) {
			out.PreviousDigest = checksum.Digest(prev)
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertOutcome{}, classify("upsert incarnation: commit", err)
	}
	return out, nil
}

// FindIncarnation returns the incarnation at (deviceID, path).
// Returns a NotFound error wrapping ErrNotFound if there is none.
func (s *Store) FindIncarnation(ctx context.Context, deviceID, path string) (model.Incarnation, error) {
	row := s.db.QueryRowContext(ctx, selectIncarnation+`
		WHERE i.device_id = ? AND i.path = ?
	`, deviceID, path)
	inc, err := scanIncarnation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incarnation{}, notFound("find incarnation", "no incarnation at %s on device %s", path, deviceID)
	}
	if err != nil {
		return model.Incarnation{}, classify("find incarnation", err)
	}
	return inc, nil
}

// RemoveIncarnation deletes the incarnation at (deviceID, path).
// Removing an unknown location is a no-op; removed reports whether a row
// existed. The File row is kept even if no incarnation references it.
func (s *Store) RemoveIncarnation(ctx context.Context, deviceID, path string) (removed bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM incarnations WHERE device_id = ? AND path = ?
	`, deviceID, path)
	if err != nil {
		return false, classify("remove incarnation", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify("remove incarnation: rows affected", err)
	}
	return n > 0, nil
}

// TouchVerified sets last_verified_at of an existing incarnation.
func (s *Store) TouchVerified(ctx context.Context, deviceID, path string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE incarnations SET last_verified_at = ?
		WHERE device_id = ? AND path = ?
	`, toNanos(at), deviceID, path)
	if err != nil {
		return classify("touch verified", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return notFound("touch verified", "no incarnation at %s on device %s", path, deviceID)
	}
	return nil
}

// IncarnationsOf returns every known location of digest, ordered by
// device_id then path.
//
// The sequence is lazy: rows are fetched in pages and no database
// connection is held while the caller's loop body runs, so the body may
// call other Store methods. It is restartable: each range re-queries.
// A query error is yielded once as the final element.
func (s *Store) IncarnationsOf(ctx context.Context, digest checksum.Digest) iter.Seq2[model.Incarnation, error] {
	return s.pages(ctx, "incarnations of", `
		WHERE i.digest = ? AND (i.device_id, i.path) > (?, ?)
		ORDER BY i.device_id COLLATE BINARY ASC, i.path COLLATE BINARY ASC
		LIMIT ?
	`, string(digest))
}

// IncarnationsUnder returns the incarnations on deviceID whose path is root
// or lies beneath it, ordered by path.
func (s *Store) IncarnationsUnder(ctx context.Context, deviceID, root string) ([]model.Incarnation, error) {
	prefix := root
	if prefix == "" || prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	rows, err := s.db.QueryContext(ctx, selectIncarnation+`
		WHERE i.device_id = ?
		  AND (i.path = ? OR substr(i.path, 1, ?) = ?)
		ORDER BY i.path COLLATE BINARY ASC
	`, deviceID, root, len(prefix), prefix)
	if err != nil {
		return nil, classify("incarnations under", err)
	}
	return collectIncarnations("incarnations under", rows)
}

// SearchIncarnations returns incarnations whose path contains text,
// case-insensitively, at most limit rows (limit <= 0 means no limit).
func (s *Store) SearchIncarnations(ctx context.Context, text string, limit int) ([]model.Incarnation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectIncarnation+`
		WHERE instr(lower(i.path), lower(?)) > 0
		ORDER BY i.device_id COLLATE BINARY ASC, i.path COLLATE BINARY ASC
		LIMIT ?
	`, text, limit)
	if err != nil {
		return nil, classify("search incarnations", err)
	}
	return collectIncarnations("search incarnations", rows)
}

// CountIncarnations returns the number of incarnation rows.
func (s *Store) CountIncarnations(ctx context.Context) (int64, error) {
	return s.count(ctx, "count incarnations", `SELECT COUNT(*) FROM incarnations`)
}

// pages yields the rows matched by where, which must take the filter arg,
// a (device_id, path) keyset cursor and a LIMIT, in that order.
func (s *Store) pages(ctx context.Context, op, where string, arg any) iter.Seq2[model.Incarnation, error] {
	return func(yield func(model.Incarnation, error) bool) {
		var lastDevice, lastPath string
		for {
			rows, err := s.db.QueryContext(ctx, selectIncarnation+where, arg, lastDevice, lastPath, pageSize)
			if err != nil {
				yield(model.Incarnation{}, classify(op, err))
				return
			}
			page, err := collectIncarnations(op, rows)
			if err != nil {
				yield(model.Incarnation{}, err)
				return
			}
			for _, inc := range page {
				if !yield(inc, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			lastDevice, lastPath = last.DeviceID, last.Path
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncarnation(r rowScanner) (model.Incarnation, error) {
	var (
		inc                           model.Incarnation
		kind, digest                  string
		firstSeen, lastSeen, verified int64
	)
	err := r.Scan(
		&inc.ID,
		&inc.DeviceID,
		&inc.Path,
		&kind,
		&digest,
		&inc.Size,
		&inc.Target,
		&firstSeen,
		&lastSeen,
		&verified,
	)
	if err != nil {
		return model.Incarnation{}, err
	}
	inc.Kind = model.Kind(kind)
	inc.Digest = checksum.Digest(digest)
	inc.FirstSeenAt = fromNanos(firstSeen)
	inc.LastSeenAt = fromNanos(lastSeen)
	inc.LastVerifiedAt = fromNanos(verified)
	return inc, nil
}

// collectIncarnations drains and closes rows.
// Returns an empty slice (not nil) when there are no rows.
func collectIncarnations(op string, rows *sql.Rows) ([]model.Incarnation, error) {
	defer rows.Close()

	incs := []model.Incarnation{}
	for rows.Next() {
		inc, err := scanIncarnation(rows)
		if err != nil {
			return nil, classify(op+": scan", err)
		}
		incs = append(incs, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op+": iterate", err)
	}
	return incs, nil
}
