package indexer

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hellisbugfree/filing-cabinet/internal/clock"
	"github.com/hellisbugfree/filing-cabinet/internal/config"
)

// Filters select which files an index pass records.
type Filters struct {
	// Extensions are lowercase without the dot. Empty matches every file.
	Extensions []string

	// MinSize and MaxSize bound the file size in bytes, inclusive.
	// MaxSize <= 0 means no upper bound.
	MinSize int64
	MaxSize int64

	// Since (inclusive) and Until (exclusive) bound the modification time.
	// A zero value leaves that side open.
	Since time.Time
	Until time.Time

	Recursive      bool
	FollowSymlinks bool

	// Ignore holds glob patterns (filepath.Match syntax) matched against
	// entry names and root-relative slash paths. Matching directories are
	// not descended into.
	Ignore []string
}

// FiltersFromPolicy builds the default filters. The date range covers today
// and the preceding p.DateRangeDays days.
func FiltersFromPolicy(p config.Policy, now time.Time) Filters {
	today := clock.StartOfDay(now)
	return Filters{
		Extensions:     normalizeExtensions(p.Extensions),
		MinSize:        p.MinSize,
		MaxSize:        p.MaxSize,
		Since:          today.AddDate(0, 0, -p.DateRangeDays),
		Until:          today.AddDate(0, 0, 1),
		Recursive:      p.Recursive,
		FollowSymlinks: p.FollowSymlinks,
		Ignore:         slices.Clone(p.IgnorePatterns),
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Ignored reports whether an entry matches an ignore pattern. rel is the
// slash-separated path relative to the index root.
func (f Filters) Ignored(rel, name string) bool {
	for _, pattern := range f.Ignore {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
		if strings.Contains(pattern, "/") {
			if ok, _ := filepath.Match(pattern, rel); ok {
				return true
			}
		}
	}
	return false
}

// MatchName reports whether name has an allowed extension.
func (f Filters) MatchName(name string) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return ext != "" && slices.Contains(f.Extensions, ext)
}

// MatchInfo reports whether size and modification time are in range.
func (f Filters) MatchInfo(info fs.FileInfo) bool {
	size := info.Size()
	if size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && size > f.MaxSize {
		return false
	}
	mt := info.ModTime()
	if !f.Since.IsZero() && mt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !mt.Before(f.Until) {
		return false
	}
	return true
}
