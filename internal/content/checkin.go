package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"go.uber.org/multierr"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
	"github.com/hellisbugfree/filing-cabinet/internal/store"
)

// CheckinResult describes one successful check-in.
type CheckinResult struct {
	Digest checksum.Digest `json:"digest"`
	Size   int64           `json:"size"`
	Path   string          `json:"path"`
	Kind   model.Kind      `json:"kind"`

	// Deduplicated is true when the canonical blob already existed and no
	// bytes were written.
	Deduplicated bool `json:"deduplicated"`

	// IncarnationInserted is true when the source path was not known.
	IncarnationInserted bool `json:"incarnation_inserted"`
}

// source is a resolved check-in source.
type source struct {
	path   string // as given, used for I/O
	key    string // normalized registry path
	kind   model.Kind
	target string
	size   int64
}

// Checkin stores the content of path under its digest and registers path as
// an incarnation.
//
// Files over file.checkin.max_size are rejected before any byte is read.
// Content already stored is not written again. New content is copied into a
// pending file, synced, re-hashed from disk and renamed into place only when
// the digest matches.
func (s *Store) Checkin(ctx context.Context, path string) (CheckinResult, error) {
	src, err := s.resolveSource(path)
	if err != nil {
		return CheckinResult{}, err
	}

	policy, err := s.policy.Policy(ctx)
	if err != nil {
		return CheckinResult{}, fmt.Errorf("checkin: %w", err)
	}
	if err := policy.CheckCheckinSize(src.key, src.size); err != nil {
		return CheckinResult{}, err
	}

	id, err := s.identity(ctx)
	if err != nil {
		return CheckinResult{}, err
	}

	digest, size, err := s.engine.SumFile(src.path)
	if err != nil {
		return CheckinResult{}, fault.FromFS("checkin", src.key, err)
	}
	// The file may have grown since it was measured.
	if err := policy.CheckCheckinSize(src.key, size); err != nil {
		return CheckinResult{}, err
	}

	res := CheckinResult{Digest: digest, Size: size, Path: src.key, Kind: src.kind}

	unlock := s.locks.Lock(string(digest))
	res.Deduplicated, err = s.storeBlob(ctx, src, digest)
	if err == nil {
		_, err = s.reg.MarkStored(ctx, digest, size, s.clock.Now())
	}
	unlock()
	if err != nil {
		return CheckinResult{}, err
	}

	out, err := s.reg.UpsertIncarnation(ctx, store.Sighting{
		DeviceID: id.ID,
		Path:     src.key,
		Kind:     src.kind,
		Digest:   digest,
		Size:     size,
		Target:   src.target,
		At:       s.clock.Now(),
	})
	if err != nil {
		return CheckinResult{}, fmt.Errorf("checkin %s: %w", src.key, err)
	}
	res.IncarnationInserted = out.Inserted

	s.logger.Debug("checked in",
		"path", src.key,
		"digest", digest.Short(),
		"size", size,
		"deduplicated", res.Deduplicated,
	)
	return res, nil
}

// resolveSource classifies path. Symlinks are checked in by their target's
// content and registered with kind symlink.
func (s *Store) resolveSource(path string) (source, error) {
	key, err := model.NormalizePath(path)
	if err != nil {
		return source{}, fault.FromFS("checkin", path, err)
	}
	src := source{path: path, key: key, kind: model.KindFile}

	linfo, err := os.Lstat(path)
	if err != nil {
		return source{}, fault.FromFS("checkin", key, err)
	}
	if linfo.Mode()&os.ModeSymlink != 0 {
		src.kind = model.KindSymlink
		if src.target, err = filepath.EvalSymlinks(path); err != nil {
			return source{}, fault.FromFS("checkin", key, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return source{}, fault.FromFS("checkin", key, err)
	}
	if !info.Mode().IsRegular() {
		return source{}, &fault.Error{
			Code:    fault.CodePolicyRejected,
			Op:      "checkin",
			Path:    key,
			Message: "only regular files can be checked in",
		}
	}
	src.size = info.Size()
	return src, nil
}

// storeBlob writes the canonical blob for digest unless it exists.
// Must be called with the digest lock held.
func (s *Store) storeBlob(ctx context.Context, src source, digest checksum.Digest) (deduplicated bool, err error) {
	blob := s.BlobPath(digest)
	if s.HasBlob(digest) {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(blob), 0o755); err != nil {
		return false, fault.FromFS("checkin", blob, err)
	}

	in, err := os.Open(src.path)
	if err != nil {
		return false, fault.FromFS("checkin", src.key, err)
	}
	defer in.Close()

	pending, err := renameio.TempFile(s.tmpDir(), blob)
	if err != nil {
		return false, fault.FromFS("checkin", blob, err)
	}
	defer pending.Cleanup()

	// Hash what is copied to catch a source modified since it was hashed.
	seen, _, err := s.engine.Sum(io.TeeReader(ctxReader{ctx: ctx, r: in}, pending))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		return false, fault.FromFS("checkin", src.key, err)
	}
	if seen != digest {
		return false, &fault.Error{
			Code:    fault.CodeTransientIO,
			Op:      "checkin",
			Path:    src.key,
			Message: "source changed during checkin",
		}
	}

	if err := pending.Sync(); err != nil {
		return false, fault.FromFS("checkin", blob, err)
	}
	written, _, err := s.rehash(pending.File)
	if err != nil {
		return false, fault.FromFS("checkin", blob, err)
	}
	if written != digest {
		return false, &fault.Error{
			Code:    fault.CodeIntegrity,
			Op:      "checkin",
			Path:    src.key,
			Digest:  string(digest),
			Message: fmt.Sprintf("pending copy hashed to %s", written.Short()),
		}
	}

	if err := pending.Chmod(0o444); err != nil {
		return false, fault.FromFS("checkin", blob, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return false, fault.FromFS("checkin", blob, err)
	}
	return false, nil
}

// CheckinFailure is one failed path of a batch.
type CheckinFailure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// BatchResult is the outcome of CheckinAll.
type BatchResult struct {
	Results  []CheckinResult  `json:"results"`
	Failures []CheckinFailure `json:"failures"`
}

// Err combines the per-file failures, or returns nil.
func (b BatchResult) Err() error {
	var err error
	for _, f := range b.Failures {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return err
}

// CheckinAll checks in every path. More than
// file.checkin.max_files_at_once.warning paths are refused unless confirm is
// set. A failing path does not stop the batch; StoreUnavailable and
// cancellation do.
func (s *Store) CheckinAll(ctx context.Context, paths []string, confirm bool) (BatchResult, error) {
	policy, err := s.policy.Policy(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("checkin: %w", err)
	}
	if err := policy.CheckBatch(len(paths), confirm); err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Results: []CheckinResult{}, Failures: []CheckinFailure{}}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := s.Checkin(ctx, p)
		if err != nil {
			if fault.IsStoreUnavailable(err) {
				return res, err
			}
			s.logger.Warn("checkin failed", "path", p, "error", err)
			res.Failures = append(res.Failures, CheckinFailure{Path: p, Err: err})
			continue
		}
		res.Results = append(res.Results, r)
	}
	return res, nil
}
