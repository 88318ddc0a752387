package content

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stevegt/readercomp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/config"
	"github.com/hellisbugfree/filing-cabinet/internal/device"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
	"github.com/hellisbugfree/filing-cabinet/internal/store"
	"github.com/hellisbugfree/filing-cabinet/internal/testutil"
)

const testDevice = "dev-test"

type fixture struct {
	cs     *Store
	reg    *store.Store
	src    string
	policy config.Policy
	clock  *testutil.FakeClock
}

func newFixture(t *testing.T, mutate ...func(*config.Policy)) *fixture {
	t.Helper()
	repo := t.TempDir()

	reg, err := store.Open(filepath.Join(repo, "cabinet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	engine, err := checksum.New(checksum.SHA256)
	require.NoError(t, err)

	policy := config.DefaultPolicy()
	policy.Workers = 2
	for _, m := range mutate {
		m(&policy)
	}

	clk := testutil.NewFakeClock(testutil.DefaultEpoch)
	cs, err := New(filepath.Join(repo, "objects"), Options{
		Engine:   engine,
		Registry: reg,
		Policy:   config.Static(policy),
		Device:   device.Static{ID: testDevice},
		Clock:    clk,
	})
	require.NoError(t, err)

	return &fixture{cs: cs, reg: reg, src: t.TempDir(), policy: policy, clock: clk}
}

func (f *fixture) countRows(t *testing.T) (files, incarnations int64) {
	t.Helper()
	ctx := context.Background()
	files, err := f.reg.CountFiles(ctx)
	require.NoError(t, err)
	incarnations, err = f.reg.CountIncarnations(ctx)
	require.NoError(t, err)
	return files, incarnations
}

func assertNoPending(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Fail(t, "unexpected pending file", "%s in %s", e.Name(), dir)
	}
}

func sameContent(t *testing.T, a, b string) bool {
	t.Helper()
	fa, err := os.Open(a)
	require.NoError(t, err)
	defer fa.Close()
	fb, err := os.Open(b)
	require.NoError(t, err)
	defer fb.Close()

	ok, err := readercomp.Equal(fa, fb, 4096)
	require.NoError(t, err)
	return ok
}

func TestCheckin_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := testutil.WriteSized(t, f.src, "docs/report.pdf", 3*1024*1024+17, 1)

	res, err := f.cs.Checkin(ctx, src)
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.True(t, res.IncarnationInserted)
	assert.Equal(t, int64(3*1024*1024+17), res.Size)
	assert.Equal(t, model.KindFile, res.Kind)

	want, _, err := f.cs.engine.SumFile(src)
	require.NoError(t, err)
	assert.Equal(t, want, res.Digest)

	out := filepath.Join(t.TempDir(), "restored.pdf")
	co, err := f.cs.Checkout(ctx, res.Digest, out, CheckoutOptions{})
	require.NoError(t, err)
	assert.Equal(t, out, co.Path)
	assert.True(t, sameContent(t, src, out), "checkout must reproduce byte-identical content")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	assertNoPending(t, f.cs.tmpDir())
}

func TestCheckin_BlobLayoutAndReadOnly(t *testing.T) {
	f := newFixture(t)
	src := testutil.WriteFile(t, f.src, "a.txt", []byte("abc"))

	res, err := f.cs.Checkin(context.Background(), src)
	require.NoError(t, err)

	hex := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	blob := filepath.Join(f.cs.Dir(), "sha256", "ba7", "816", hex)
	assert.Equal(t, blob, f.cs.BlobPath(res.Digest))

	info, err := os.Stat(blob)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	stored, err := f.reg.ReadFile(context.Background(), res.Digest)
	require.NoError(t, err)
	assert.True(t, stored.Stored())
}

func TestCheckin_MaxSizeBoundary(t *testing.T) {
	f := newFixture(t, func(p *config.Policy) { p.CheckinMaxSize = 1024 })
	ctx := context.Background()

	exact := testutil.WriteSized(t, f.src, "exact.bin", 1024, 1)
	over := testutil.WriteSized(t, f.src, "over.bin", 1025, 2)

	_, err := f.cs.Checkin(ctx, exact)
	require.NoError(t, err, "a file of exactly the maximum size is accepted")

	_, err = f.cs.Checkin(ctx, over)
	require.Error(t, err)
	assert.True(t, fault.IsPolicyRejected(err), "got %v", err)

	files, incs := f.countRows(t)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(1), incs)
}

func TestCheckin_IdenticalContentTwoPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := testutil.WriteSized(t, f.src, "a.pdf", 4096, 9)
	b := testutil.WriteSized(t, f.src, "copy/a_copy.pdf", 4096, 9)

	ra, err := f.cs.Checkin(ctx, a)
	require.NoError(t, err)
	rb, err := f.cs.Checkin(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, ra.Digest, rb.Digest)
	assert.False(t, ra.Deduplicated)
	assert.True(t, rb.Deduplicated)

	files, incs := f.countRows(t)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(2), incs)

	var paths []string
	for inc, err := range f.reg.IncarnationsOf(ctx, ra.Digest) {
		require.NoError(t, err)
		paths = append(paths, inc.Path)
	}
	assert.ElementsMatch(t, []string{ra.Path, rb.Path}, paths)
}

func TestCheckin_SamePathTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := testutil.WriteFile(t, f.src, "a.txt", []byte("hello"))

	first, err := f.cs.Checkin(ctx, src)
	require.NoError(t, err)
	second, err := f.cs.Checkin(ctx, src)
	require.NoError(t, err)

	assert.True(t, first.IncarnationInserted)
	assert.False(t, second.IncarnationInserted)
	assert.True(t, second.Deduplicated)

	files, incs := f.countRows(t)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(1), incs)
}

func TestCheckin_Missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.cs.Checkin(context.Background(), filepath.Join(f.src, "nope.pdf"))
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err), "got %v", err)
}

func TestCheckin_Unreadable(t *testing.T) {
	testutil.SkipIfRoot(t)
	f := newFixture(t)
	src := testutil.WriteFile(t, f.src, "secret.pdf", []byte("classified"))
	testutil.Unreadable(t, src)

	_, err := f.cs.Checkin(context.Background(), src)
	require.Error(t, err)
	assert.True(t, fault.IsTransientIO(err), "got %v", err)

	files, _ := f.countRows(t)
	assert.Zero(t, files)
	assertNoPending(t, f.cs.tmpDir())
}

func TestCheckin_DirectoryRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.cs.Checkin(context.Background(), f.src)
	require.Error(t, err)
	assert.True(t, fault.IsPolicyRejected(err))
}

func TestCheckin_Symlink(t *testing.T) {
	f := newFixture(t)
	target := testutil.WriteFile(t, f.src, "real.pdf", []byte("pdf bytes"))
	link := filepath.Join(f.src, "link.pdf")
	testutil.Symlink(t, target, link)

	res, err := f.cs.Checkin(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, model.KindSymlink, res.Kind)

	inc, err := f.reg.FindIncarnation(context.Background(), testDevice, res.Path)
	require.NoError(t, err)
	assert.Equal(t, model.KindSymlink, inc.Kind)
	wantTarget, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, wantTarget, inc.Target)
}

func TestCheckin_ConcurrentIdenticalContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	paths := make([]string, n)
	for i := range paths {
		paths[i] = testutil.WriteSized(t, f.src, filepath.Join("dup", strings.Repeat("x", i+1)+".pdf"), 64*1024, 5)
	}

	results := make([]CheckinResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.cs.Checkin(ctx, paths[i])
		}(i)
	}
	wg.Wait()

	stored := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].Deduplicated {
			stored++
		}
	}
	assert.Equal(t, 1, stored, "exactly one check-in writes the blob")

	files, incs := f.countRows(t)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(n), incs)
	assert.Zero(t, f.cs.locks.size())
	assertNoPending(t, f.cs.tmpDir())
}

func TestCheckinAll_RequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var paths []string
	for i := 0; i < f.policy.BatchWarning+1; i++ {
		paths = append(paths, testutil.WriteSized(t, f.src, filepath.Join("batch", string(rune('a'+i))+".pdf"), 100, byte(i)))
	}

	_, err := f.cs.CheckinAll(ctx, paths, false)
	require.Error(t, err)
	assert.True(t, fault.IsPolicyRejected(err))
	assert.Contains(t, err.Error(), "confirmation required")
	files, _ := f.countRows(t)
	assert.Zero(t, files, "nothing is stored before confirmation")

	res, err := f.cs.CheckinAll(ctx, paths, true)
	require.NoError(t, err)
	assert.Len(t, res.Results, len(paths))
	assert.Empty(t, res.Failures)
	assert.NoError(t, res.Err())
}

func TestCheckinAll_CollectsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := testutil.WriteFile(t, f.src, "good.pdf", []byte("ok"))
	missing := filepath.Join(f.src, "missing.pdf")

	res, err := f.cs.CheckinAll(ctx, []string{good, missing}, false)
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, missing, res.Failures[0].Path)
	assert.True(t, fault.IsNotFound(res.Err()))
}

func TestCheckout_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unknown := f.cs.engine.SumBytes([]byte("never stored"))
	_, err := f.cs.Checkout(ctx, unknown, filepath.Join(t.TempDir(), "x"), CheckoutOptions{})
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err), "got %v", err)

	indexedOnly := f.cs.engine.SumBytes([]byte("indexed only"))
	_, err = f.reg.EnsureFile(ctx, indexedOnly, 12, testutil.DefaultEpoch)
	require.NoError(t, err)
	_, err = f.cs.Checkout(ctx, indexedOnly, filepath.Join(t.TempDir(), "x"), CheckoutOptions{})
	assert.True(t, fault.IsNotFound(err), "got %v", err)

	_, err = f.cs.Checkout(ctx, "sha256:zz", t.TempDir(), CheckoutOptions{})
	assert.True(t, fault.IsNotFound(err))
}

func TestCheckout_CorruptCanonicalCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := testutil.WriteSized(t, f.src, "a.pdf", 10000, 3)

	res, err := f.cs.Checkin(ctx, src)
	require.NoError(t, err)

	blob := f.cs.BlobPath(res.Digest)
	require.NoError(t, os.Chmod(blob, 0o644))
	data, err := os.ReadFile(blob)
	require.NoError(t, err)
	data[5000] ^= 0xFF
	require.NoError(t, os.WriteFile(blob, data, 0o644))

	outDir := t.TempDir()
	out := filepath.Join(outDir, "restored.pdf")
	_, err = f.cs.Checkout(ctx, res.Digest, out, CheckoutOptions{})
	require.Error(t, err)
	assert.True(t, fault.IsIntegrity(err), "got %v", err)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no output may be left behind")
	assertNoPending(t, outDir)

	_, incs := f.countRows(t)
	assert.Equal(t, int64(1), incs, "failed checkout registers nothing")
}

func TestCheckout_MissingBlobIsIntegrityError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := testutil.WriteFile(t, f.src, "a.pdf", []byte("content"))

	res, err := f.cs.Checkin(ctx, src)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.cs.BlobPath(res.Digest)))

	_, err = f.cs.Checkout(ctx, res.Digest, filepath.Join(t.TempDir(), "out"), CheckoutOptions{})
	assert.True(t, fault.IsIntegrity(err), "got %v", err)
}

func TestCheckout_IntoDirectoryUsesKnownName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := testutil.WriteFile(t, f.src, "invoice.pdf", []byte("invoice"))

	res, err := f.cs.Checkin(ctx, src)
	require.NoError(t, err)

	outDir := t.TempDir()
	co, err := f.cs.Checkout(ctx, res.Digest, outDir, CheckoutOptions{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "invoice.pdf"), co.Path)

	inc, err := f.reg.FindIncarnation(ctx, testDevice, co.Path)
	require.NoError(t, err, "checkout registers its output as an incarnation")
	assert.Equal(t, res.Digest, inc.Digest)
}

func TestCheckout_ExistingDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := testutil.WriteFile(t, f.src, "a.txt", []byte("new content"))

	res, err := f.cs.Checkin(ctx, src)
	require.NoError(t, err)

	out := testutil.WriteFile(t, t.TempDir(), "a.txt", []byte("old"))
	_, err = f.cs.Checkout(ctx, res.Digest, out, CheckoutOptions{})
	require.Error(t, err)
	assert.True(t, fault.IsPolicyRejected(err))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	_, err = f.cs.Checkout(ctx, res.Digest, out, CheckoutOptions{Overwrite: true})
	require.NoError(t, err)
	data, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))
}

func TestCheckout_Cancelled(t *testing.T) {
	f := newFixture(t)
	src := testutil.WriteSized(t, f.src, "a.pdf", 1000, 1)
	res, err := f.cs.Checkin(context.Background(), src)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outDir := t.TempDir()
	_, err = f.cs.Checkout(ctx, res.Digest, filepath.Join(outDir, "out.pdf"), CheckoutOptions{})
	require.Error(t, err)
	assertNoPending(t, outDir)
}

func TestVerifyAndVerifyAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var digests []checksum.Digest
	for i := 0; i < 4; i++ {
		src := testutil.WriteSized(t, f.src, filepath.Join("v", string(rune('a'+i))), 2048, byte(i+10))
		res, err := f.cs.Checkin(ctx, src)
		require.NoError(t, err)
		digests = append(digests, res.Digest)
	}
	for _, d := range digests {
		assert.NoError(t, f.cs.Verify(ctx, d))
	}

	bad := digests[2]
	blob := f.cs.BlobPath(bad)
	require.NoError(t, os.Chmod(blob, 0o644))
	require.NoError(t, os.WriteFile(blob, []byte("tampered"), 0o644))

	err := f.cs.Verify(ctx, bad)
	assert.True(t, fault.IsIntegrity(err), "got %v", err)

	report, err := f.cs.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, bad, report.Failures[0].Digest)
}

func TestVerifyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := testutil.WriteSized(t, f.src, "scan.png", 4096, 3)

	res, err := f.cs.Checkin(ctx, src)
	require.NoError(t, err)

	later := f.clock.Advance(48 * time.Hour)
	inc, err := f.cs.VerifyPath(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, res.Digest, inc.Digest)
	assert.Equal(t, later, inc.LastVerifiedAt)

	stored, err := f.reg.FindIncarnation(ctx, testDevice, src)
	require.NoError(t, err)
	assert.Equal(t, later, stored.LastVerifiedAt)

	require.NoError(t, os.WriteFile(src, []byte("edited"), 0o644))
	f.clock.Advance(time.Hour)
	_, err = f.cs.VerifyPath(ctx, src)
	assert.True(t, fault.IsIntegrity(err), "got %v", err)

	stored, err = f.reg.FindIncarnation(ctx, testDevice, src)
	require.NoError(t, err)
	assert.Equal(t, later, stored.LastVerifiedAt, "a failed check must not touch the record")

	_, err = f.cs.VerifyPath(ctx, filepath.Join(f.src, "unknown.png"))
	assert.True(t, fault.IsNotFound(err), "got %v", err)
}

func TestDiskUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.cs.DiskUsage()
	require.NoError(t, err)
	assert.Zero(t, before)

	_, err = f.cs.Checkin(ctx, testutil.WriteSized(t, f.src, "a", 1000, 1))
	require.NoError(t, err)
	_, err = f.cs.Checkin(ctx, testutil.WriteSized(t, f.src, "b", 1000, 1))
	require.NoError(t, err)

	after, err := f.cs.DiskUsage()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), after, "deduplicated content is stored once")
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  = map[string]int{}
		overlap bool
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b"}[i%2]
			unlock := k.Lock(key)
			mu.Lock()
			inside[key]++
			if inside[key] > 1 {
				overlap = true
			}
			mu.Unlock()

			mu.Lock()
			inside[key]--
			mu.Unlock()
			unlock()
		}(i)
	}
	wg.Wait()
	assert.False(t, overlap)
	assert.Zero(t, k.size())
}
