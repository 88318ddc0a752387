package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

// walker traverses the tree on a single goroutine and hands matching files
// to the hashing pool.
type walker struct {
	ix      *Indexer
	ctx     context.Context
	root    string
	filters Filters
	pool    errgroup.Group
	results chan<- hashed

	// seen holds the registry key of every file-like entry encountered,
	// filtered or not.
	seen map[string]struct{}
	// visited holds the resolved directories on the current descent path.
	visited map[string]struct{}

	stats counters
	errs  []FileError
}

func (w *walker) stopped() bool {
	return w.ctx.Err() != nil
}

func (w *walker) dir(path, resolved string) {
	if w.stopped() {
		return
	}
	w.visited[resolved] = struct{}{}
	defer delete(w.visited, resolved)

	// ReadDir returns the entries read before an error.
	entries, err := os.ReadDir(path)
	if err != nil {
		w.fail(path, err)
	}
	for _, e := range entries {
		if w.stopped() {
			return
		}
		w.entry(filepath.Join(path, e.Name()), e.Name(), resolved, e)
	}
}

func (w *walker) entry(path, name, parent string, e fs.DirEntry) {
	if rel := w.rel(path); rel != "." && w.filters.Ignored(rel, name) {
		if !e.IsDir() {
			w.see(path)
			w.stats.scanned++
			w.stats.skippedFilter++
		}
		return
	}

	switch t := e.Type(); {
	case t.IsDir():
		if w.filters.Recursive {
			w.dir(path, filepath.Join(parent, name))
		}
	case t&fs.ModeSymlink != 0:
		w.symlink(path, name)
	case t.IsRegular():
		key := w.see(path)
		w.stats.scanned++
		if !w.filters.MatchName(name) {
			w.stats.skippedFilter++
			return
		}
		info, err := e.Info()
		if err != nil {
			w.fail(path, err)
			return
		}
		if !w.filters.MatchInfo(info) {
			w.stats.skippedFilter++
			return
		}
		w.dispatch(path, key, model.KindFile, "")
	}
}

// symlink records a link to a regular file that passes the filters, and
// descends into linked directories when following is enabled. Anything else
// is skipped with a warning.
func (w *walker) symlink(path, name string) {
	logger := w.ix.logger
	target, err := filepath.EvalSymlinks(path)
	var info fs.FileInfo
	if err == nil {
		info, err = os.Stat(target)
	}
	if err != nil {
		w.see(path)
		w.stats.scanned++
		w.stats.skippedSymlinks++
		logger.Warn("skipping dangling symlink", "path", path, "error", err)
		return
	}

	if info.IsDir() {
		if !w.filters.FollowSymlinks || !w.filters.Recursive {
			logger.Debug("not following directory symlink", "path", path, "target", target)
			return
		}
		if _, loop := w.visited[target]; loop {
			w.stats.skippedSymlinks++
			logger.Warn("skipping symlink loop", "path", path, "target", target)
			return
		}
		w.dir(path, target)
		return
	}

	key := w.see(path)
	w.stats.scanned++
	switch {
	case !info.Mode().IsRegular():
		w.stats.skippedSymlinks++
		logger.Warn("skipping symlink to non-regular file", "path", path, "target", target)
	case !w.filters.MatchName(name):
		w.stats.skippedFilter++
	case !w.filters.MatchInfo(info):
		w.stats.skippedSymlinks++
		logger.Warn("skipping symlink with target outside filters", "path", path, "target", target)
	default:
		w.dispatch(path, key, model.KindSymlink, target)
	}
}

func (w *walker) dispatch(path, key string, kind model.Kind, target string) {
	if w.stopped() {
		return
	}
	w.stats.matched++
	w.pool.Go(func() error {
		d, n, err := w.ix.engine.SumFile(path)
		w.results <- hashed{
			path:   path,
			key:    key,
			kind:   kind,
			target: target,
			digest: d,
			size:   n,
			err:    err,
		}
		return nil
	})
}

// see records path as present and returns its registry key.
func (w *walker) see(path string) string {
	key := norm.NFC.String(filepath.Clean(path))
	w.seen[key] = struct{}{}
	return key
}

func (w *walker) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *walker) fail(path string, err error) {
	w.stats.skippedError++
	w.errs = append(w.errs, FileError{Path: path, Err: fault.FromFS("walk", path, err)})
	w.ix.logger.Warn("skipping entry", "path", path, "error", err)
}
