package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/clock"
	"github.com/hellisbugfree/filing-cabinet/internal/config"
	"github.com/hellisbugfree/filing-cabinet/internal/device"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
	"github.com/hellisbugfree/filing-cabinet/internal/store"
)

const tmpDirName = "tmp"

// Registry is the part of the store the content store writes through.
// *store.Store implements it.
type Registry interface {
	UpsertIncarnation(ctx context.Context, sg store.Sighting) (store.UpsertOutcome, error)
	MarkStored(ctx context.Context, digest checksum.Digest, size int64, at time.Time) (bool, error)
	ReadFile(ctx context.Context, digest checksum.Digest) (model.File, error)
	IncarnationsOf(ctx context.Context, digest checksum.Digest) iter.Seq2[model.Incarnation, error]
	StoredDigests(ctx context.Context) ([]checksum.Digest, error)
	FindIncarnation(ctx context.Context, deviceID, path string) (model.Incarnation, error)
	TouchVerified(ctx context.Context, deviceID, path string, at time.Time) error
}

// Options configures a Store.
type Options struct {
	Engine   *checksum.Engine
	Registry Registry
	Policy   config.Provider
	Device   device.Provider
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Store reads and writes canonical blobs.
type Store struct {
	dir    string
	engine *checksum.Engine
	reg    Registry
	policy config.Provider
	device device.Provider
	clock  clock.Clock
	logger *slog.Logger
	locks  *keyedMutex
}

// New opens the object directory dir, creating it if needed.
func New(dir string, opts Options) (*Store, error) {
	if opts.Engine == nil || opts.Registry == nil || opts.Policy == nil || opts.Device == nil {
		return nil, errors.New("content: engine, registry, policy and device are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{
		dir:    dir,
		engine: opts.Engine,
		reg:    opts.Registry,
		policy: opts.Policy,
		device: opts.Device,
		clock:  clock.Or(opts.Clock),
		logger: logger,
		locks:  newKeyedMutex(),
	}
	for _, d := range []string{s.tmpDir(), filepath.Join(dir, string(s.engine.Algorithm()))} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fault.Wrap(fault.CodeStoreUnavailable, "open objects", err)
		}
	}
	return s, nil
}

// Dir returns the object directory.
func (s *Store) Dir() string {
	return s.dir
}

// BlobPath returns the canonical location of digest.
// Layout: <dir>/<algo>/<hex[0:3]>/<hex[3:6]>/<hex>
func (s *Store) BlobPath(digest checksum.Digest) string {
	h := digest.Hex()
	return filepath.Join(s.dir, string(digest.Algorithm()), h[0:3], h[3:6], h)
}

// HasBlob reports whether the canonical blob for digest exists.
func (s *Store) HasBlob(digest checksum.Digest) bool {
	info, err := os.Stat(s.BlobPath(digest))
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) tmpDir() string {
	return filepath.Join(s.dir, tmpDirName)
}

// DiskUsage returns the bytes used by files under the object directory.
func (s *Store) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("disk usage: %w", err)
	}
	return total, nil
}

// checkDigest validates that digest is well formed and uses the store's
// algorithm.
func (s *Store) checkDigest(op string, digest checksum.Digest) error {
	if _, err := checksum.ParseDigest(string(digest)); err != nil {
		return &fault.Error{Code: fault.CodeNotFound, Op: op, Digest: string(digest), Err: err}
	}
	if digest.Algorithm() != s.engine.Algorithm() {
		return &fault.Error{
			Code:    fault.CodeNotFound,
			Op:      op,
			Digest:  string(digest),
			Message: fmt.Sprintf("cabinet uses %s digests", s.engine.Algorithm()),
		}
	}
	return nil
}

// rehash returns the digest of the file behind f from its first byte.
func (s *Store) rehash(f *os.File) (checksum.Digest, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	return s.engine.Sum(f)
}

func (s *Store) identity(ctx context.Context) (device.Identity, error) {
	id, err := s.device.Identity(ctx)
	if err != nil {
		return device.Identity{}, fmt.Errorf("device identity: %w", err)
	}
	return id, nil
}
