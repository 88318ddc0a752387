package cabinet

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/device"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
)

// Status summarizes a cabinet.
type Status struct {
	Path          string             `json:"path"`
	Name          string             `json:"name"`
	SchemaVersion int                `json:"schema_version"`
	Algorithm     checksum.Algorithm `json:"algorithm"`
	CreatedAt     time.Time          `json:"created_at"`
	Files         int64              `json:"files"`
	StoredFiles   int64              `json:"stored_files"`
	Incarnations  int64              `json:"incarnations"`
	DatabaseSize  int64              `json:"database_size"`
	ObjectsSize   int64              `json:"objects_size"`
	Size          int64              `json:"size"`
	// Checksum covers the digests of every checked-in File, independent of
	// the order they were stored in.
	Checksum checksum.Digest `json:"checksum"`
	Device   device.Identity `json:"device"`
}

// Status reports counts, sizes and the repository checksum.
func (c *Cabinet) Status(ctx context.Context) (Status, error) {
	info, err := c.st.ReadRepository(ctx)
	if err != nil {
		return Status{}, err
	}
	s := Status{
		Path:          c.dir,
		Name:          info.Name,
		SchemaVersion: info.SchemaVersion,
		Algorithm:     info.Algorithm,
		CreatedAt:     info.CreatedAt,
	}

	if s.Files, err = c.st.CountFiles(ctx); err != nil {
		return Status{}, err
	}
	if s.StoredFiles, err = c.st.CountStoredFiles(ctx); err != nil {
		return Status{}, err
	}
	if s.Incarnations, err = c.st.CountIncarnations(ctx); err != nil {
		return Status{}, err
	}

	s.DatabaseSize = c.databaseSize()
	if s.ObjectsSize, err = c.content.DiskUsage(); err != nil {
		return Status{}, fault.Wrap(fault.CodeTransientIO, "status", err)
	}
	s.Size = s.DatabaseSize + s.ObjectsSize

	digests, err := c.st.StoredDigests(ctx)
	if err != nil {
		return Status{}, err
	}
	if s.Checksum, err = checksum.Combine(info.Algorithm, digests); err != nil {
		return Status{}, err
	}

	if s.Device, err = c.device.Identity(ctx); err != nil {
		return Status{}, err
	}
	return s, nil
}

// databaseSize counts the database and its WAL side files.
func (c *Cabinet) databaseSize() int64 {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if info, err := os.Stat(filepath.Join(c.dir, DatabaseFile+suffix)); err == nil {
			total += info.Size()
		}
	}
	return total
}
