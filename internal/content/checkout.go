package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
	"github.com/hellisbugfree/filing-cabinet/internal/store"
)

// CheckoutOptions controls Checkout.
type CheckoutOptions struct {
	// Overwrite replaces an existing destination file.
	Overwrite bool
}

// CheckoutResult describes a successful checkout.
type CheckoutResult struct {
	Digest checksum.Digest `json:"digest"`
	Size   int64           `json:"size"`
	Path   string          `json:"path"`
}

// Checkout copies the canonical content of digest to dest.
//
// When dest is an existing directory the file is named after a known
// incarnation of the content, or after the digest if none is known. The copy
// is written beside the destination, synced and re-hashed; only a verified
// copy is renamed into place. On any failure nothing is left at dest.
func (s *Store) Checkout(ctx context.Context, digest checksum.Digest, dest string, opts CheckoutOptions) (CheckoutResult, error) {
	if err := s.checkDigest("checkout", digest); err != nil {
		return CheckoutResult{}, err
	}

	f, err := s.reg.ReadFile(ctx, digest)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("checkout: %w", err)
	}
	if !f.Stored() {
		return CheckoutResult{}, &fault.Error{
			Code:    fault.CodeNotFound,
			Op:      "checkout",
			Digest:  string(digest),
			Message: "content is indexed but not checked in",
		}
	}

	target, err := s.destination(ctx, digest, dest)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !opts.Overwrite {
		if _, err := os.Lstat(target); err == nil {
			return CheckoutResult{}, &fault.Error{
				Code:    fault.CodePolicyRejected,
				Op:      "checkout",
				Path:    target,
				Message: "destination exists; overwrite not requested",
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return CheckoutResult{}, fault.FromFS("checkout", target, err)
		}
	}

	id, err := s.identity(ctx)
	if err != nil {
		return CheckoutResult{}, err
	}

	size, err := s.copyVerified(ctx, digest, target)
	if err != nil {
		return CheckoutResult{}, err
	}

	key, err := model.NormalizePath(target)
	if err != nil {
		return CheckoutResult{}, fault.FromFS("checkout", target, err)
	}
	if _, err := s.reg.UpsertIncarnation(ctx, store.Sighting{
		DeviceID: id.ID,
		Path:     key,
		Kind:     model.KindFile,
		Digest:   digest,
		Size:     size,
		At:       s.clock.Now(),
	}); err != nil {
		return CheckoutResult{}, fmt.Errorf("checkout %s: %w", key, err)
	}

	s.logger.Debug("checked out", "digest", digest.Short(), "path", key, "size", size)
	return CheckoutResult{Digest: digest, Size: size, Path: key}, nil
}

// destination resolves dest to a file path.
func (s *Store) destination(ctx context.Context, digest checksum.Digest, dest string) (string, error) {
	info, err := os.Stat(dest)
	if err != nil || !info.IsDir() {
		return dest, nil
	}

	name := digest.Hex()
	for inc, err := range s.reg.IncarnationsOf(ctx, digest) {
		if err != nil {
			return "", fmt.Errorf("checkout: %w", err)
		}
		name = filepath.Base(inc.Path)
		break
	}
	return filepath.Join(dest, name), nil
}

// copyVerified copies the blob of digest to target through a pending file.
func (s *Store) copyVerified(ctx context.Context, digest checksum.Digest, target string) (int64, error) {
	blob, err := os.Open(s.BlobPath(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, &fault.Error{
			Code:    fault.CodeIntegrity,
			Op:      "checkout",
			Digest:  string(digest),
			Message: "canonical copy is missing",
			Err:     err,
		}
	}
	if err != nil {
		return 0, fault.FromFS("checkout", s.BlobPath(digest), err)
	}
	defer blob.Close()

	pending, err := renameio.TempFile(filepath.Dir(target), target)
	if err != nil {
		return 0, fault.FromFS("checkout", target, err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, ctxReader{ctx: ctx, r: blob}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fault.FromFS("checkout", target, err)
	}
	if err := pending.Sync(); err != nil {
		return 0, fault.FromFS("checkout", target, err)
	}

	written, size, err := s.rehash(pending.File)
	if err != nil {
		return 0, fault.FromFS("checkout", target, err)
	}
	if written != digest {
		return 0, &fault.Error{
			Code:    fault.CodeIntegrity,
			Op:      "checkout",
			Path:    target,
			Digest:  string(digest),
			Message: fmt.Sprintf("canonical copy is corrupt: output hashed to %s", written.Short()),
		}
	}

	if err := pending.Chmod(0o644); err != nil {
		return 0, fault.FromFS("checkout", target, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fault.FromFS("checkout", target, err)
	}
	return size, nil
}
