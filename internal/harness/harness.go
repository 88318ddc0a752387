package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/stevegt/readercomp"

	"github.com/hellisbugfree/filing-cabinet/internal/cabinet"
	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/content"
	"github.com/hellisbugfree/filing-cabinet/internal/device"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/testutil"
)

// DeviceID is the device every scenario runs as.
const DeviceID = "harness"

// rootToken stands for the scenario root in traces and assertions.
const rootToken = "$ROOT"

// Harness executes one scenario against a fresh cabinet.
type Harness struct {
	root   string
	repo   string
	cab    *cabinet.Cabinet
	clock  *testutil.FakeClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh temporary directory holding the file tree
// and the cabinet, both removed afterwards. Execution flow:
//  1. Create the file tree and the cabinet
//  2. Apply config
//  3. Execute flow steps with expect validation
//  4. Evaluate assertions
//
// The returned error covers setup problems only; failed expectations are
// reported in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	base, err := os.MkdirTemp("", "cabinet-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(base)
	// Resolved so registry keys and the trace rewrite agree.
	if base, err = filepath.EvalSymlinks(base); err != nil {
		return nil, fmt.Errorf("failed to resolve scenario directory: %w", err)
	}

	h := &Harness{
		root:   filepath.Join(base, "tree"),
		repo:   filepath.Join(base, "cabinet"),
		clock:  testutil.NewFakeClock(testutil.DefaultEpoch),
		logger: slog.New(slog.DiscardHandler),
	}
	if err := h.setup(ctx, scenario); err != nil {
		return nil, err
	}
	defer h.cab.Close()

	result := NewResult()
	for i, step := range scenario.Flow {
		h.step(ctx, i, step, result)
	}

	actx := &AssertionContext{
		Store: h.cab.Registry(),
		Ctx:   ctx,
		Root:  h.root,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) setup(ctx context.Context, scenario *Scenario) error {
	if err := os.MkdirAll(h.root, 0o755); err != nil {
		return fmt.Errorf("failed to create tree: %w", err)
	}
	for i, f := range scenario.Files {
		if err := h.writeSpec(f); err != nil {
			return fmt.Errorf("files[%d]: %w", i, err)
		}
	}

	var algo checksum.Algorithm
	if scenario.Algorithm != "" {
		a, err := checksum.ParseAlgorithm(scenario.Algorithm)
		if err != nil {
			return fmt.Errorf("invalid algorithm: %w", err)
		}
		algo = a
	}
	if _, err := cabinet.Init(ctx, h.repo, cabinet.InitOptions{Algorithm: algo}); err != nil {
		return fmt.Errorf("failed to init cabinet: %w", err)
	}
	cab, err := cabinet.Open(ctx, h.repo, cabinet.Options{
		Device: device.Static{ID: DeviceID, Hostname: "harness", Platform: "test"},
		Clock:  h.clock,
		Logger: h.logger,
		RunIDs: testutil.NewSequentialIDs("run"),
	})
	if err != nil {
		return fmt.Errorf("failed to open cabinet: %w", err)
	}
	h.cab = cab

	for _, key := range slices.Sorted(maps.Keys(scenario.Config)) {
		if err := cab.SetConfig(ctx, key, scenario.Config[key]); err != nil {
			cab.Close()
			return fmt.Errorf("config %s: %w", key, err)
		}
	}
	return nil
}

func (h *Harness) writeSpec(f FileSpec) error {
	full := h.path(f.Path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if f.Link != "" {
		return os.Symlink(filepath.FromSlash(f.Link), full)
	}
	data := []byte(f.Content)
	if f.Size > 0 {
		data = testutil.Pattern(f.Size, byte(f.Seed))
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return err
	}
	mtime := h.clock.Now().AddDate(0, 0, -f.AgeDays)
	return os.Chtimes(full, mtime, mtime)
}

// step runs one flow step, records it and checks its expect clause.
func (h *Harness) step(ctx context.Context, i int, step FlowStep, result *Result) {
	res, err := h.exec(ctx, step)
	outcome := outcomeOf(err)
	result.AddTrace(TraceEvent{Op: step.Op, Args: step.Args, Outcome: outcome, Result: res})
	h.logger.Debug("flow step completed", "step", i, "op", step.Op, "outcome", outcome)

	want := OutcomeOK
	if step.Expect != nil {
		want = step.Expect.Outcome
	}
	if outcome != want {
		msg := fmt.Sprintf("flow[%d] %s: expected outcome %s, got %s", i, step.Op, want, outcome)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
		return
	}
	if step.Expect != nil && !matchArgs(res, step.Expect.Result) {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected result %v, got %v", i, step.Op, step.Expect.Result, res))
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := fault.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

func (h *Harness) exec(ctx context.Context, step FlowStep) (map[string]any, error) {
	a := stepArgs(step.Args)
	switch step.Op {
	case "index":
		return h.index(ctx, a)
	case "checkin":
		r, err := h.cab.Checkin(ctx, h.path(a.text("path")))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"digest":       string(r.Digest),
			"size":         int(r.Size),
			"kind":         string(r.Kind),
			"deduplicated": r.Deduplicated,
		}, nil
	case "checkout":
		return h.checkout(ctx, a)
	case "verify":
		return h.verify(ctx, a)
	case "find":
		return h.find(ctx, a)
	case "remove":
		return nil, h.cab.Remove(ctx, h.path(a.text("path")))
	case "status":
		st, err := h.cab.Status(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"files":        int(st.Files),
			"stored_files": int(st.StoredFiles),
			"incarnations": int(st.Incarnations),
			"checksum":     string(st.Checksum),
		}, nil
	case "config":
		return nil, h.cab.SetConfig(ctx, a.text("key"), a.text("value"))
	case "write":
		full := h.path(a.text("path"))
		if err := os.WriteFile(full, []byte(a.text("content")), 0o644); err != nil {
			return nil, err
		}
		now := h.clock.Now()
		return nil, os.Chtimes(full, now, now)
	case "delete":
		return nil, os.Remove(h.path(a.text("path")))
	case "corrupt":
		return nil, h.corrupt(ctx, a)
	case "advance":
		h.clock.Advance(time.Duration(a.number("hours")) * time.Hour)
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) index(ctx context.Context, a stepArgs) (map[string]any, error) {
	root := h.root
	if p := a.text("path"); p != "" {
		root = h.path(p)
	}
	sum, err := h.cab.Index(ctx, root, cabinet.IndexRequest{Workers: a.number("workers"), Prune: a.flag("prune")})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"scanned":              sum.Scanned,
		"matched":              sum.Matched,
		"skipped_by_filter":    sum.SkippedByFilter,
		"skipped_by_error":     sum.SkippedByError,
		"skipped_symlinks":     sum.SkippedSymlinks,
		"new_files":            sum.NewFiles,
		"new_incarnations":     sum.NewIncarnations,
		"updated_incarnations": sum.UpdatedIncarnations,
		"changed_digests":      sum.ChangedDigests,
		"removed":              sum.Removed,
	}, nil
}

func (h *Harness) checkout(ctx context.Context, a stepArgs) (map[string]any, error) {
	digest, err := h.digest(ctx, a)
	if err != nil {
		return nil, err
	}
	r, err := h.cab.Checkout(ctx, digest, h.path(a.text("dest")), content.CheckoutOptions{Overwrite: a.flag("force")})
	if err != nil {
		return nil, err
	}
	res := map[string]any{
		"digest": string(r.Digest),
		"size":   int(r.Size),
		"path":   h.rel(r.Path),
	}
	if src := a.text("path"); src != "" {
		same, err := sameContent(h.path(src), r.Path)
		if err != nil {
			return nil, err
		}
		res["matches_source"] = same
	}
	return res, nil
}

func (h *Harness) verify(ctx context.Context, a stepArgs) (map[string]any, error) {
	if f := a.text("file"); f != "" {
		if _, err := h.cab.VerifyPath(ctx, h.path(f)); err != nil {
			return map[string]any{"checked": 1, "failed": 1}, err
		}
		return map[string]any{"checked": 1, "failed": 0}, nil
	}
	if a.text("path") != "" || a.text("digest") != "" {
		digest, err := h.digest(ctx, a)
		if err != nil {
			return nil, err
		}
		if err := h.cab.Verify(ctx, digest); err != nil {
			return map[string]any{"checked": 1, "failed": 1}, err
		}
		return map[string]any{"checked": 1, "failed": 0}, nil
	}

	report, err := h.cab.VerifyAll(ctx)
	if err != nil {
		return nil, err
	}
	res := map[string]any{"checked": report.Checked, "failed": len(report.Failures)}
	if len(report.Failures) > 0 {
		return res, report.Failures[0].Err
	}
	return res, nil
}

func (h *Harness) find(ctx context.Context, a stepArgs) (map[string]any, error) {
	inc, err := h.cab.FindPath(ctx, h.path(a.text("path")))
	if err != nil {
		return nil, err
	}
	f, err := h.cab.Find(ctx, inc.Digest)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, err := range h.cab.IncarnationsOf(ctx, inc.Digest) {
		if err != nil {
			return nil, err
		}
		n++
	}
	res := map[string]any{
		"digest":       string(f.Digest),
		"size":         int(f.Size),
		"stored":       f.StoredAt != nil,
		"kind":         string(inc.Kind),
		"incarnations": n,
	}
	if inc.Target != "" {
		res["target"] = h.rel(inc.Target)
	}
	return res, nil
}

// corrupt overwrites the canonical copy of the content recorded at path.
func (h *Harness) corrupt(ctx context.Context, a stepArgs) error {
	digest, err := h.digest(ctx, a)
	if err != nil {
		return err
	}
	hex := digest.Hex()
	blob := filepath.Join(h.repo, cabinet.ObjectsDir, string(digest.Algorithm()), hex[0:3], hex[3:6], hex)
	if err := os.Chmod(blob, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(blob, []byte("corrupted by harness"), 0o644); err != nil {
		return err
	}
	return os.Chmod(blob, 0o444)
}

// digest resolves the digest arg, or the digest recorded at the path arg.
func (h *Harness) digest(ctx context.Context, a stepArgs) (checksum.Digest, error) {
	if raw := a.text("digest"); raw != "" {
		return checksum.ParseDigest(raw)
	}
	if a.text("path") == "" {
		return "", errors.New("digest or path is required")
	}
	inc, err := h.cab.FindPath(ctx, h.path(a.text("path")))
	if err != nil {
		return "", err
	}
	return inc.Digest, nil
}

// path maps a slash separated scenario path to its location under the root.
func (h *Harness) path(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}

// rel rewrites a path under the root to its "$ROOT/..." form.
func (h *Harness) rel(p string) string {
	if p == h.root {
		return rootToken
	}
	if rest, ok := strings.CutPrefix(p, h.root+string(filepath.Separator)); ok {
		return rootToken + "/" + filepath.ToSlash(rest)
	}
	return p
}

func sameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()
	return readercomp.Equal(fa, fb, 4096)
}

// stepArgs reads typed values out of YAML args.
type stepArgs map[string]any

func (a stepArgs) text(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (a stepArgs) number(key string) int {
	n, _ := toInt64(a[key])
	return int(n)
}

func (a stepArgs) flag(key string) bool {
	b, _ := a[key].(bool)
	return b
}
