package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

// Verify re-hashes the canonical blob of digest. A missing or mismatching
// blob is an IntegrityError.
func (s *Store) Verify(ctx context.Context, digest checksum.Digest) error {
	if err := s.checkDigest("verify", digest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	got, _, err := s.engine.SumFile(s.BlobPath(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return &fault.Error{
			Code:    fault.CodeIntegrity,
			Op:      "verify",
			Digest:  string(digest),
			Message: "canonical copy is missing",
			Err:     err,
		}
	}
	if err != nil {
		return fault.FromFS("verify", s.BlobPath(digest), err)
	}
	if got != digest {
		return &fault.Error{
			Code:    fault.CodeIntegrity,
			Op:      "verify",
			Digest:  string(digest),
			Message: fmt.Sprintf("canonical copy hashed to %s", got.Short()),
		}
	}
	return nil
}

// VerifyPath re-hashes the file at path and compares it with the digest its
// incarnation was recorded with. On a match last_verified_at is updated; a
// changed file is an IntegrityError and the registry is left alone.
func (s *Store) VerifyPath(ctx context.Context, path string) (model.Incarnation, error) {
	key, err := model.NormalizePath(path)
	if err != nil {
		return model.Incarnation{}, fault.Wrap(fault.CodeNotFound, "verify path", err)
	}
	id, err := s.identity(ctx)
	if err != nil {
		return model.Incarnation{}, err
	}
	inc, err := s.reg.FindIncarnation(ctx, id.ID, key)
	if err != nil {
		return model.Incarnation{}, fmt.Errorf("verify path: %w", err)
	}

	got, _, err := s.engine.SumFile(path)
	if err != nil {
		return inc, fault.FromFS("verify path", path, err)
	}
	if got != inc.Digest {
		return inc, &fault.Error{
			Code:    fault.CodeIntegrity,
			Op:      "verify path",
			Path:    key,
			Digest:  string(inc.Digest),
			Message: fmt.Sprintf("file now hashes to %s", got.Short()),
		}
	}

	now := s.clock.Now()
	if err := s.reg.TouchVerified(ctx, id.ID, key, now); err != nil {
		return inc, fmt.Errorf("verify path: %w", err)
	}
	inc.LastVerifiedAt = now
	return inc, nil
}

// VerifyFailure is one blob that failed verification.
type VerifyFailure struct {
	Digest checksum.Digest `json:"digest"`
	Err    error           `json:"-"`
	Reason string          `json:"reason"`
}

// VerifyReport is the outcome of VerifyAll.
type VerifyReport struct {
	Checked  int             `json:"checked"`
	Failures []VerifyFailure `json:"failures"`
}

// VerifyAll re-hashes every stored blob with the configured number of
// workers. Per-blob failures are collected; only store errors and
// cancellation abort the scrub.
func (s *Store) VerifyAll(ctx context.Context) (VerifyReport, error) {
	digests, err := s.reg.StoredDigests(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify all: %w", err)
	}
	policy, err := s.policy.Policy(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify all: %w", err)
	}

	var (
		mu     sync.Mutex
		report = VerifyReport{Failures: []VerifyFailure{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(policy.WorkerCount())
	for _, d := range digests {
		g.Go(func() error {
			err := s.Verify(gctx, d)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			if err != nil {
				s.logger.Warn("verify failed", "digest", d.Short(), "error", err)
				report.Failures = append(report.Failures, VerifyFailure{Digest: d, Err: err, Reason: err.Error()})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	slices.SortFunc(report.Failures, func(a, b VerifyFailure) int {
		return strings.Compare(string(a.Digest), string(b.Digest))
	})
	return report, nil
}
