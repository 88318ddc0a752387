// Package cabinet ties the registry, the content store, the indexer and the
// settings of one repository directory together.
//
// Layout of a cabinet directory:
//
//	<dir>/cabinet.db                       registry database
//	<dir>/objects/<algo>/<hhh>/<hhh>/<hex> canonical blobs
//	<dir>/objects/tmp/                     pending writes
package cabinet

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
	"strings"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/clock"
	"github.com/hellisbugfree/filing-cabinet/internal/config"
	"github.com/hellisbugfree/filing-cabinet/internal/content"
	"github.com/hellisbugfree/filing-cabinet/internal/device"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/indexer"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
	"github.com/hellisbugfree/filing-cabinet/internal/store"
)

const (
	DatabaseFile = "cabinet.db"
	ObjectsDir   = "objects"
)

// EnvRepo names the environment variable that overrides the default
// repository location.
const EnvRepo = "FILING_CABINET_REPO"

// DefaultDir returns the repository location used when none is given:
// $FILING_CABINET_REPO, else ~/.filing-cabinet.
func DefaultDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(EnvRepo)); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("default repository: %w", err)
	}
	return filepath.Join(home, ".filing-cabinet"), nil
}

// InitOptions configures a new cabinet.
type InitOptions struct {
	Name      string             // default "Filing Cabinet"
	Algorithm checksum.Algorithm // default sha256
}

// Options configures an opened cabinet. Zero values select the defaults.
type Options struct {
	// Device defaults to a Resolver over StateDir.
	Device device.Provider
	// StateDir holds the device ID. Defaults to the user config directory,
	// or the cabinet directory when there is none.
	StateDir string
	Clock    clock.Clock
	Logger   *slog.Logger
	RunIDs   indexer.IDGenerator
}

// Init creates the cabinet at dir. It reports false when a cabinet already
// existed there, in which case nothing is changed.
func Init(ctx context.Context, dir string, opts InitOptions) (created bool, err error) {
	const op = "init"
	algo := opts.Algorithm
	if algo == "" {
		algo = checksum.DefaultAlgorithm
	}
	if _, err := checksum.New(algo); err != nil {
		return false, fault.Wrap(fault.CodePolicyRejected, op, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ObjectsDir), 0o755); err != nil {
		return false, fault.Wrap(fault.CodeStoreUnavailable, op, err)
	}

	st, err := store.Open(filepath.Join(dir, DatabaseFile))
	if err != nil {
		return false, err
	}
	defer st.Close()

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = config.DefaultName
	}
	created, err = st.InitRepository(ctx, model.RepositoryInfo{
		Name:      name,
		Algorithm: algo,
		CreatedAt: clock.Real{}.Now(),
	})
	if err != nil || !created {
		return created, err
	}
	if name != config.DefaultName {
		if err := config.NewService(st, nil).Set(ctx, config.KeyCabinetName, name); err != nil {
			return created, err
		}
	}
	return true, nil
}

// Cabinet is an open repository. It is safe for concurrent use.
type Cabinet struct {
	dir     string
	info    model.RepositoryInfo
	st      *store.Store
	cfg     *config.Service
	content *content.Store
	indexer *indexer.Indexer
	device  device.Provider
	clock   clock.Clock
	logger  *slog.Logger
}

// Open opens an initialized cabinet. A directory without a database is
// reported as NotFound.
func Open(ctx context.Context, dir string, opts Options) (*Cabinet, error) {
	const op = "open cabinet"
	dbPath := filepath.Join(dir, DatabaseFile)
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &fault.Error{
				Code:    fault.CodeNotFound,
				Op:      op,
				Path:    dir,
				Message: "no cabinet here; run init first",
			}
		}
		return nil, fault.Wrap(fault.CodeStoreUnavailable, op, err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	c, err := open(ctx, dir, st, opts)
	if err != nil {
		st.Close()
		return nil, err
	}
	return c, nil
}

func open(ctx context.Context, dir string, st *store.Store, opts Options) (*Cabinet, error) {
	info, err := st.ReadRepository(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := checksum.New(info.Algorithm)
	if err != nil {
		return nil, fault.Wrap(fault.CodeStoreUnavailable, "open cabinet", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := clock.Or(opts.Clock)
	dev := opts.Device
	if dev == nil {
		dev = device.Resolver{StateDir: stateDir(opts.StateDir, dir)}
	}
	cfg := config.NewService(st, clk)

	cs, err := content.New(filepath.Join(dir, ObjectsDir), content.Options{
		Engine:   engine,
		Registry: st,
		Policy:   cfg,
		Device:   dev,
		Clock:    clk,
		Logger:   logger.With("component", "content"),
	})
	if err != nil {
		return nil, err
	}
	ix, err := indexer.New(indexer.Config{
		Engine:   engine,
		Registry: st,
		Device:   dev,
		Clock:    clk,
		IDs:      opts.RunIDs,
		Logger:   logger.With("component", "indexer"),
	})
	if err != nil {
		return nil, err
	}

	return &Cabinet{
		dir:     dir,
		info:    info,
		st:      st,
		cfg:     cfg,
		content: cs,
		indexer: ix,
		device:  dev,
		clock:   clk,
		logger:  logger,
	}, nil
}

func stateDir(explicit, repo string) string {
	if explicit != "" {
		return explicit
	}
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "filing-cabinet")
	}
	return repo
}

// Close releases the database.
func (c *Cabinet) Close() error {
	return c.st.Close()
}

// Dir returns the cabinet directory.
func (c *Cabinet) Dir() string {
	return c.dir
}

// Algorithm returns the digest algorithm of the cabinet.
func (c *Cabinet) Algorithm() checksum.Algorithm {
	return c.info.Algorithm
}

// Registry returns the registry store.
func (c *Cabinet) Registry() *store.Store {
	return c.st
}

// Config returns the settings service.
func (c *Cabinet) Config() *config.Service {
	return c.cfg
}

// Policy returns the current effective policy.
func (c *Cabinet) Policy(ctx context.Context) (config.Policy, error) {
	return c.cfg.Policy(ctx)
}

// Identity returns the device the cabinet is used from.
func (c *Cabinet) Identity(ctx context.Context) (device.Identity, error) {
	return c.device.Identity(ctx)
}

// IndexRequest overrides policy-derived filters for one pass.
type IndexRequest struct {
	// Filters replaces the policy filters when non-nil.
	Filters *indexer.Filters
	// Workers overrides indexing.workers when positive.
	Workers int
	Prune   bool
}

// Index walks root with the current policy.
func (c *Cabinet) Index(ctx context.Context, root string, req IndexRequest) (indexer.Summary, error) {
	policy, err := c.cfg.Policy(ctx)
	if err != nil {
		return indexer.Summary{}, err
	}
	filters := indexer.FiltersFromPolicy(policy, c.clock.Now())
	if req.Filters != nil {
		filters = *req.Filters
	}
	workers := policy.WorkerCount()
	if req.Workers > 0 {
		workers = req.Workers
	}
	return c.indexer.Index(ctx, root, filters, indexer.Options{Workers: workers, Prune: req.Prune})
}

// Checkin stores the content at path.
func (c *Cabinet) Checkin(ctx context.Context, path string) (content.CheckinResult, error) {
	return c.content.Checkin(ctx, path)
}

// CheckinAll stores several paths; see content.Store.CheckinAll.
func (c *Cabinet) CheckinAll(ctx context.Context, paths []string, confirm bool) (content.BatchResult, error) {
	return c.content.CheckinAll(ctx, paths, confirm)
}

// Checkout writes a verified copy of digest to dest.
func (c *Cabinet) Checkout(ctx context.Context, digest checksum.Digest, dest string, opts content.CheckoutOptions) (content.CheckoutResult, error) {
	return c.content.Checkout(ctx, digest, dest, opts)
}

// Verify re-hashes the canonical copy of digest.
func (c *Cabinet) Verify(ctx context.Context, digest checksum.Digest) error {
	return c.content.Verify(ctx, digest)
}

// VerifyPath re-hashes the indexed file at path against its recorded digest.
func (c *Cabinet) VerifyPath(ctx context.Context, path string) (model.Incarnation, error) {
	return c.content.VerifyPath(ctx, path)
}

// VerifyAll re-hashes every canonical copy.
func (c *Cabinet) VerifyAll(ctx context.Context) (content.VerifyReport, error) {
	return c.content.VerifyAll(ctx)
}

// Find returns the File for digest.
func (c *Cabinet) Find(ctx context.Context, digest checksum.Digest) (model.File, error) {
	if _, err := checksum.ParseDigest(string(digest)); err != nil {
		return model.File{}, &fault.Error{Code: fault.CodeNotFound, Op: "find", Digest: string(digest), Err: err}
	}
	return c.st.ReadFile(ctx, digest)
}

// FindPath returns the incarnation at path on this device.
func (c *Cabinet) FindPath(ctx context.Context, path string) (model.Incarnation, error) {
	key, id, err := c.locate(ctx, path)
	if err != nil {
		return model.Incarnation{}, err
	}
	return c.st.FindIncarnation(ctx, id, key)
}

// IncarnationsOf lists every known location of digest.
func (c *Cabinet) IncarnationsOf(ctx context.Context, digest checksum.Digest) iter.Seq2[model.Incarnation, error] {
	return c.st.IncarnationsOf(ctx, digest)
}

// Remove forgets the incarnation at path on this device. The File and any
// canonical copy are kept.
func (c *Cabinet) Remove(ctx context.Context, path string) error {
	key, id, err := c.locate(ctx, path)
	if err != nil {
		return err
	}
	removed, err := c.st.RemoveIncarnation(ctx, id, key)
	if err != nil {
		return err
	}
	if !removed {
		return &fault.Error{Code: fault.CodeNotFound, Op: "remove", Path: key, Message: "no incarnation at path"}
	}
	c.logger.Info("removed incarnation", "path", key)
	return nil
}

// Search returns incarnations whose path contains text.
func (c *Cabinet) Search(ctx context.Context, text string, limit int) ([]model.Incarnation, error) {
	return c.st.SearchIncarnations(ctx, text, limit)
}

// Runs returns recent index runs, newest first.
func (c *Cabinet) Runs(ctx context.Context, limit int) ([]model.IndexRun, error) {
	return c.st.ReadIndexRuns(ctx, limit)
}

// SetConfig sets one setting. Renaming the cabinet also updates the
// repository record.
func (c *Cabinet) SetConfig(ctx context.Context, key, raw string) error {
	if err := c.cfg.Set(ctx, key, raw); err != nil {
		return err
	}
	return c.syncName(ctx)
}

// ResetConfig restores keys to their defaults; no keys resets everything.
func (c *Cabinet) ResetConfig(ctx context.Context, keys ...string) error {
	if err := c.cfg.Reset(ctx, keys...); err != nil {
		return err
	}
	return c.syncName(ctx)
}

// ImportConfig replaces settings from a YAML document.
func (c *Cabinet) ImportConfig(ctx context.Context, r io.Reader) error {
	if err := c.cfg.Import(ctx, r); err != nil {
		return err
	}
	return c.syncName(ctx)
}

func (c *Cabinet) syncName(ctx context.Context) error {
	v, err := c.cfg.Get(ctx, config.KeyCabinetName)
	if err != nil {
		return err
	}
	name, _ := v.(string)
	info, err := c.st.ReadRepository(ctx)
	if err != nil {
		return err
	}
	if name == info.Name {
		return nil
	}
	return c.st.RenameRepository(ctx, name)
}

func (c *Cabinet) locate(ctx context.Context, path string) (key, deviceID string, err error) {
	key, err = model.NormalizePath(path)
	if err != nil {
		return "", "", fault.Wrap(fault.CodeNotFound, "locate", err)
	}
	id, err := c.device.Identity(ctx)
	if err != nil {
		return "", "", fmt.Errorf("device identity: %w", err)
	}
	return key, id.ID, nil
}
