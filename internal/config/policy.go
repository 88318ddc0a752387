package config

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	"github.com/hellisbugfree/filing-cabinet/internal/fault"
)

// Policy is the safety guard: effective limits consulted before costly
// operations, plus the indexing filter settings.
type Policy struct {
	CheckinMaxSize int64
	BatchWarning   int
	Extensions     []string
	MinSize        int64
	MaxSize        int64
	DateRangeDays  int
	Recursive      bool
	FollowSymlinks bool
	IgnorePatterns []string
	Workers        int
}

// Provider supplies the current Policy.
type Provider interface {
	Policy(ctx context.Context) (Policy, error)
}

// Static is a Provider returning a fixed Policy.
type Static Policy

// Policy implements Provider.
func (p Static) Policy(context.Context) (Policy, error) {
	return Policy(p), nil
}

// DefaultPolicy returns the policy built from the defaults table.
func DefaultPolicy() Policy {
	values := make(map[string]any, len(table))
	for _, k := range table {
		values[k.Name] = k.Default
	}
	return policyFrom(values)
}

// Policy implements Provider from the stored settings.
func (s *Service) Policy(ctx context.Context) (Policy, error) {
	values, err := s.effective(ctx)
	if err != nil {
		return Policy{}, err
	}
	return policyFrom(values), nil
}

func policyFrom(values map[string]any) Policy {
	p := Policy{}
	p.CheckinMaxSize, _ = values[KeyCheckinMaxSize].(int64)
	p.BatchWarning, _ = values[KeyCheckinBatchWarn].(int)
	ext, _ := values[KeyIndexExtensions].([]string)
	p.Extensions = slices.Clone(ext)
	p.MinSize, _ = values[KeyIndexMinSize].(int64)
	p.MaxSize, _ = values[KeyIndexMaxSize].(int64)
	p.DateRangeDays, _ = values[KeyIndexDateRangeDays].(int)
	p.Recursive, _ = values[KeyRecursive].(bool)
	p.FollowSymlinks, _ = values[KeyFollowSymlinks].(bool)
	ignore, _ := values[KeyIgnorePatterns].([]string)
	p.IgnorePatterns = slices.Clone(ignore)
	p.Workers, _ = values[KeyWorkers].(int)
	return p
}

// CheckCheckinSize rejects files larger than CheckinMaxSize. A file of
// exactly the maximum size is accepted.
func (p Policy) CheckCheckinSize(path string, size int64) error {
	if size > p.CheckinMaxSize {
		return &fault.Error{
			Code: fault.CodePolicyRejected,
			Op:   "checkin",
			Path: path,
			Message: fmt.Sprintf("file size %s exceeds %s limit of %s",
				FormatSize(size), KeyCheckinMaxSize, FormatSize(p.CheckinMaxSize)),
		}
	}
	return nil
}

// CheckBatch rejects operations on more than BatchWarning files unless the
// caller confirmed.
func (p Policy) CheckBatch(n int, confirm bool) error {
	if n > p.BatchWarning && !confirm {
		return &fault.Error{
			Code: fault.CodePolicyRejected,
			Op:   "checkin",
			Message: fmt.Sprintf("confirmation required: %d files exceeds %s of %d",
				n, KeyCheckinBatchWarn, p.BatchWarning),
		}
	}
	return nil
}

// WorkerCount returns the hashing pool size, resolving 0 to the CPU count.
func (p Policy) WorkerCount() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}
