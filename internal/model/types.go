package model

import (
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
)

// Kind is the filesystem kind of an incarnation.
type Kind string

const (
	KindFile    Kind = "file"
	KindSymlink Kind = "symlink"
)

// ParseKind validates a stored kind value.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFile, KindSymlink:
		return k, nil
	default:
		return "", fmt.Errorf("unknown incarnation kind %q", s)
	}
}

// File is a unit of content identified by its digest.
type File struct {
	Digest    checksum.Digest `json:"digest"`
	Size      int64           `json:"size"`
	CreatedAt time.Time       `json:"created_at"`          // first time the digest was seen
	StoredAt  *time.Time      `json:"stored_at,omitempty"` // nil until checked in
}

// Stored reports whether the canonical blob has been checked in.
func (f File) Stored() bool {
	return f.StoredAt != nil
}

// Incarnation is a location on a device known to hold a File's content.
type Incarnation struct {
	ID             int64           `json:"id"`
	DeviceID       string          `json:"device_id"`
	Path           string          `json:"path"`
	Kind           Kind            `json:"kind"`
	Digest         checksum.Digest `json:"digest"`
	Size           int64           `json:"size"`
	Target         string          `json:"target,omitempty"` // resolved target for symlinks
	FirstSeenAt    time.Time       `json:"first_seen_at"`
	LastSeenAt     time.Time       `json:"last_seen_at"`
	LastVerifiedAt time.Time       `json:"last_verified_at"`
}

// RepositoryInfo is the single metadata row of a cabinet database.
type RepositoryInfo struct {
	Name          string             `json:"name"`
	Algorithm     checksum.Algorithm `json:"algorithm"`
	SchemaVersion int                `json:"schema_version"`
	CreatedAt     time.Time          `json:"created_at"`
}

// IndexRun records the outcome of one indexing pass.
type IndexRun struct {
	ID                  string    `json:"id"`
	Root                string    `json:"root"`
	DeviceID            string    `json:"device_id"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	Scanned             int       `json:"scanned"`
	Matched             int       `json:"matched"`
	SkippedByFilter     int       `json:"skipped_by_filter"`
	SkippedByError      int       `json:"skipped_by_error"`
	SkippedSymlinks     int       `json:"skipped_symlinks"`
	NewFiles            int       `json:"new_files"`
	NewIncarnations     int       `json:"new_incarnations"`
	UpdatedIncarnations int       `json:"updated_incarnations"`
	ChangedDigests      int       `json:"changed_digests"`
	Removed             int       `json:"removed"`
	Cancelled           bool      `json:"cancelled"`
}

// NormalizePath returns the registry form of path: absolute, cleaned and
// Unicode NFC so that decomposed and precomposed spellings share one row.
func NormalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("normalize path %q: %w", path, err)
	}
	return norm.NFC.String(filepath.Clean(abs)), nil
}
