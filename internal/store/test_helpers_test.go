package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

var testTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

var (
	digestA = checksum.Digest("sha256:" + strings.Repeat("a", 64))
	digestB = checksum.Digest("sha256:" + strings.Repeat("b", 64))
	digestC = checksum.Digest("sha256:" + strings.Repeat("c", 64))
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cabinet.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSighting creates a regular-file sighting with minimal fields.
func createTestSighting(device, path string, digest checksum.Digest, at time.Time) Sighting {
	return Sighting{
		DeviceID: device,
		Path:     path,
		Kind:     model.KindFile,
		Digest:   digest,
		Size:     42,
		At:       at,
	}
}
