// Package indexer walks directory trees and records every matching file as
// an incarnation of its content digest.
//
// Hashing runs on a bounded worker pool. A single writer goroutine applies
// results to the registry, so the store sees one upsert at a time. When the
// context is cancelled the walk stops dispatching and in-flight results are
// still written before the pass returns.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/clock"
	"github.com/hellisbugfree/filing-cabinet/internal/device"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
	"github.com/hellisbugfree/filing-cabinet/internal/store"
)

// Registry is the part of the store an index pass writes through.
// *store.Store implements it.
type Registry interface {
	UpsertIncarnation(ctx context.Context, sg store.Sighting) (store.UpsertOutcome, error)
	IncarnationsUnder(ctx context.Context, deviceID, root string) ([]model.Incarnation, error)
	RemoveIncarnation(ctx context.Context, deviceID, path string) (bool, error)
	WriteIndexRun(ctx context.Context, run model.IndexRun) error
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() string
}

type uuidV7 struct{}

func (uuidV7) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Config wires an Indexer.
type Config struct {
	Engine   *checksum.Engine
	Registry Registry
	Device   device.Provider
	Clock    clock.Clock
	IDs      IDGenerator
	Logger   *slog.Logger
}

// Options adjust a single pass.
type Options struct {
	// Workers bounds concurrent hashing. Values <= 0 use one worker.
	Workers int

	// Prune removes incarnations under the root whose paths no longer
	// exist. It only runs after a pass that was not cancelled.
	Prune bool
}

// Indexer runs index passes.
type Indexer struct {
	engine *checksum.Engine
	reg    Registry
	device device.Provider
	clock  clock.Clock
	ids    IDGenerator
	logger *slog.Logger
}

// New returns an Indexer.
func New(cfg Config) (*Indexer, error) {
	if cfg.Engine == nil || cfg.Registry == nil || cfg.Device == nil {
		return nil, errors.New("indexer: engine, registry and device are required")
	}
	ix := &Indexer{
		engine: cfg.Engine,
		reg:    cfg.Registry,
		device: cfg.Device,
		clock:  clock.Or(cfg.Clock),
		ids:    cfg.IDs,
		logger: cfg.Logger,
	}
	if ix.ids == nil {
		ix.ids = uuidV7{}
	}
	if ix.logger == nil {
		ix.logger = slog.New(slog.DiscardHandler)
	}
	return ix, nil
}

// hashed is a candidate file after hashing.
type hashed struct {
	path   string // as found on disk
	key    string // registry path
	kind   model.Kind
	target string
	digest checksum.Digest
	size   int64
	err    error
}

// Index walks root and records every file that passes filters.
//
// Per-entry failures are collected in Summary.Errors and do not stop the
// pass. A registry failure classified as store-unavailable aborts it. When
// ctx is cancelled the returned summary covers the work done so far, has
// Cancelled set, and err is the context error.
func (ix *Indexer) Index(ctx context.Context, root string, filters Filters, opts Options) (Summary, error) {
	const op = "index"

	sum := Summary{RunID: ix.ids.NewID(), StartedAt: ix.clock.Now()}

	key, err := model.NormalizePath(root)
	if err != nil {
		return sum, fault.Wrap(fault.CodeNotFound, op, err)
	}
	sum.Root = key
	abs, _ := filepath.Abs(root)

	info, err := os.Stat(abs)
	if err != nil {
		return sum, fault.FromFS(op, abs, err)
	}

	id, err := ix.device.Identity(ctx)
	if err != nil {
		return sum, fmt.Errorf("%s: device identity: %w", op, err)
	}
	sum.DeviceID = id.ID

	workers := max(opts.Workers, 1)
	walkCtx, stopWalk := context.WithCancelCause(ctx)
	defer stopWalk(nil)

	results := make(chan hashed, workers)
	w := &walker{
		ix:      ix,
		ctx:     walkCtx,
		root:    abs,
		filters: filters,
		seen:    make(map[string]struct{}),
		visited: make(map[string]struct{}),
		results: results,
	}
	w.pool.SetLimit(workers)

	ix.logger.Info("index started", "run", sum.RunID, "root", key, "workers", workers)

	wr := &writer{ix: ix, device: id.ID, at: sum.StartedAt, abort: stopWalk}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// In-flight results are written even after ctx is cancelled.
		wr.drain(context.WithoutCancel(ctx), results)
	}()

	if info.IsDir() {
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			resolved = abs
		}
		w.dir(abs, resolved)
	} else if li, err := os.Lstat(abs); err == nil && li.Mode()&fs.ModeSymlink != 0 {
		w.symlink(abs, filepath.Base(abs))
	} else {
		w.entry(abs, filepath.Base(abs), "", fs.FileInfoToDirEntry(info))
	}

	_ = w.pool.Wait()
	close(results)
	<-writerDone

	w.stats.addTo(&sum)
	wr.stats.addTo(&sum)
	sum.Errors = append(w.errs, wr.errs...)
	sort.Slice(sum.Errors, func(i, j int) bool { return sum.Errors[i].Path < sum.Errors[j].Path })

	if wr.fatal != nil {
		sum.FinishedAt = ix.clock.Now()
		ix.logger.Error("index aborted", "run", sum.RunID, "error", wr.fatal)
		return sum, wr.fatal
	}

	sum.Cancelled = ctx.Err() != nil
	if opts.Prune && !sum.Cancelled && info.IsDir() {
		removed, err := ix.prune(ctx, id.ID, key, w.seen)
		sum.Removed = removed
		if err != nil {
			sum.FinishedAt = ix.clock.Now()
			return sum, err
		}
	}

	sum.FinishedAt = ix.clock.Now()
	if err := ix.reg.WriteIndexRun(context.WithoutCancel(ctx), sum.Run()); err != nil {
		return sum, err
	}

	ix.logger.Info("index finished",
		"run", sum.RunID,
		"matched", sum.Matched,
		"new_files", sum.NewFiles,
		"new_incarnations", sum.NewIncarnations,
		"errors", len(sum.Errors),
		"cancelled", sum.Cancelled,
		"elapsed", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond),
	)
	if sum.Cancelled {
		return sum, ctx.Err()
	}
	return sum, nil
}

// prune removes incarnations under root that the walk did not see and that
// are confirmed absent on disk.
func (ix *Indexer) prune(ctx context.Context, deviceID, root string, seen map[string]struct{}) (int, error) {
	known, err := ix.reg.IncarnationsUnder(ctx, deviceID, root)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, inc := range known {
		if _, ok := seen[inc.Path]; ok {
			continue
		}
		if _, err := os.Lstat(inc.Path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		ok, err := ix.reg.RemoveIncarnation(ctx, deviceID, inc.Path)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
			ix.logger.Debug("pruned incarnation", "path", inc.Path, "digest", inc.Digest.Short())
		}
	}
	return removed, nil
}

// counters are merged into a Summary once the pass ends.
type counters struct {
	scanned, matched, skippedFilter, skippedError, skippedSymlinks int
	newFiles, newIncarnations, updated, changed                  int
}

func (c counters) addTo(s *Summary) {
	s.Scanned += c.scanned
	s.Matched += c.matched
	s.SkippedByFilter += c.skippedFilter
	s.SkippedByError += c.skippedError
	s.SkippedSymlinks += c.skippedSymlinks
	s.NewFiles += c.newFiles
	s.NewIncarnations += c.newIncarnations
	s.UpdatedIncarnations += c.updated
	s.ChangedDigests += c.changed
}

// writer applies hashed results to the registry.
type writer struct {
	ix     *Indexer
	device string
	at     time.Time
	abort  context.CancelCauseFunc

	stats counters
	errs  []FileError
	fatal error
}

func (wr *writer) drain(ctx context.Context, results <-chan hashed) {
	for r := range results {
		if wr.fatal != nil {
			continue
		}
		if r.err != nil {
			wr.stats.skippedError++
			wr.errs = append(wr.errs, FileError{Path: r.path, Err: fault.FromFS("hash", r.path, r.err)})
			wr.ix.logger.Warn("skipping unreadable file", "path", r.path, "error", r.err)
			continue
		}
		out, err := wr.ix.reg.UpsertIncarnation(ctx, store.Sighting{
			DeviceID: wr.device,
			Path:     r.key,
			Kind:     r.kind,
			Digest:   r.digest,
			Size:     r.size,
			Target:   r.target,
			At:       wr.at,
		})
		if err != nil {
			if fault.IsStoreUnavailable(err) {
				wr.fatal = err
				wr.abort(err)
				continue
			}
			wr.stats.skippedError++
			wr.errs = append(wr.errs, FileError{Path: r.path, Err: err})
			continue
		}
		if out.FileInserted {
			wr.stats.newFiles++
		}
		switch {
		case out.Inserted:
			wr.stats.newIncarnations++
		case out.DigestChanged():
			wr.stats.updated++
			wr.stats.changed++
			wr.ix.logger.Info("content changed", "path", r.key, "from", out.PreviousDigest.Short(), "to", r.digest.Short())
		default:
			wr.stats.updated++
		}
	}
}
