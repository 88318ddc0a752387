// Package config holds the typed settings of a cabinet.
//
// Every recognized key is declared once in the static table below, with its
// type and default. Values are validated when written (Set, Import) and
// persisted as text in the store's config table. Policy turns the effective
// values into the safety limits and indexing filters used by the content
// store and the indexer.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// Type is the value type of a key.
type Type string

const (
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeSize   Type = "size" // bytes; accepts "5MB", "100MiB", "1048576"
	TypeBool   Type = "bool"
	TypeList   Type = "list"
)

// DefaultName is the cabinet name used until one is set.
const DefaultName = "Filing Cabinet"

// Recognized keys.
const (
	KeyCabinetName        = "cabinet.name"
	KeyCheckinMaxSize     = "file.checkin.max_size"
	KeyCheckinBatchWarn   = "file.checkin.max_files_at_once.warning"
	KeyIndexExtensions    = "file.index.extensions"
	KeyIndexMinSize       = "file.index.min_size"
	KeyIndexMaxSize       = "file.index.max_size"
	KeyIndexDateRangeDays = "file.index.date_range_days"
	KeyRecursive          = "indexing.recursive"
	KeyFollowSymlinks     = "indexing.follow_symlinks"
	KeyIgnorePatterns     = "indexing.ignore_patterns"
	KeyWorkers            = "indexing.workers"
)

// ErrUnknownKey is returned for keys missing from the table.
var ErrUnknownKey = errors.New("unknown config key")

// Key describes one setting.
type Key struct {
	Name        string
	Type        Type
	Default     any
	Description string

	// normalize rewrites list elements before storage.
	normalize func(string) string
}

const mib = 1024 * 1024

var table = []Key{
	{Name: KeyCabinetName, Type: TypeString, Default: DefaultName,
		Description: "Display name of the cabinet"},
	{Name: KeyCheckinMaxSize, Type: TypeSize, Default: int64(100 * mib),
		Description: "Largest file accepted by checkin"},
	{Name: KeyCheckinBatchWarn, Type: TypeInt, Default: 10,
		Description: "Files per checkin call above which confirmation is required"},
	{Name: KeyIndexExtensions, Type: TypeList, Default: []string{"pdf", "png", "jpg", "jpeg"},
		Description: "Extensions picked up by index", normalize: normalizeExtension},
	{Name: KeyIndexMinSize, Type: TypeSize, Default: int64(0),
		Description: "Smallest file picked up by index"},
	{Name: KeyIndexMaxSize, Type: TypeSize, Default: int64(100 * mib),
		Description: "Largest file picked up by index"},
	{Name: KeyIndexDateRangeDays, Type: TypeInt, Default: 30,
		Description: "Index files modified today or in the preceding N days"},
	{Name: KeyRecursive, Type: TypeBool, Default: true,
		Description: "Descend into subdirectories when indexing"},
	{Name: KeyFollowSymlinks, Type: TypeBool, Default: false,
		Description: "Descend into symlinked directories when indexing"},
	{Name: KeyIgnorePatterns, Type: TypeList,
		Default:     []string{".git", ".svn", ".hg", "__pycache__", "*.pyc", "*.pyo", ".DS_Store"},
		Description: "Glob patterns of paths skipped by index"},
	{Name: KeyWorkers, Type: TypeInt, Default: 0,
		Description: "Hashing workers used by index (0 = number of CPUs)"},
}

// Keys returns the table of recognized keys, sorted by name.
func Keys() []Key {
	keys := slices.Clone(table)
	slices.SortFunc(keys, func(a, b Key) int { return strings.Compare(a.Name, b.Name) })
	return keys
}

// Lookup returns the key named name.
func Lookup(name string) (Key, error) {
	for _, k := range table {
		if k.Name == name {
			return k, nil
		}
	}
	return Key{}, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// Parse converts human input into a typed value. Lists are comma separated.
func (k Key) Parse(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch k.Type {
	case TypeString:
		return raw, nil
	case TypeInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: not an integer: %q", k.Name, raw)
		}
		return n, nil
	case TypeSize:
		n, err := ParseSize(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k.Name, err)
		}
		return n, nil
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: not a boolean: %q", k.Name, raw)
		}
		return b, nil
	case TypeList:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return k.normalizeList(items), nil
	default:
		return nil, fmt.Errorf("%s: unsupported type %q", k.Name, k.Type)
	}
}

// Format renders a typed value for display.
func (k Key) Format(v any) string {
	switch k.Type {
	case TypeSize:
		n, _ := v.(int64)
		return FormatSize(n)
	case TypeList:
		items, _ := v.([]string)
		return strings.Join(items, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// encode renders a typed value for storage.
func (k Key) encode(v any) (string, error) {
	switch k.Type {
	case TypeList:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%s: %w", k.Name, err)
		}
		return string(b), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// decode parses a stored value.
func (k Key) decode(s string) (any, error) {
	switch k.Type {
	case TypeString:
		return s, nil
	case TypeInt:
		return strconv.Atoi(s)
	case TypeSize:
		return strconv.ParseInt(s, 10, 64)
	case TypeBool:
		return strconv.ParseBool(s)
	case TypeList:
		var items []string
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return nil, err
		}
		if items == nil {
			items = []string{}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unsupported type %q", k.Type)
	}
}

// coerce converts a value decoded from YAML or CUE into the key's Go type.
func (k Key) coerce(v any) (any, error) {
	switch k.Type {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		}
	case TypeSize:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case string:
			return ParseSize(n)
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeList:
		switch items := v.(type) {
		case []string:
			return k.normalizeList(items), nil
		case []any:
			out := make([]string, 0, len(items))
			for _, item := range items {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%s: list element %v is not a string", k.Name, item)
				}
				out = append(out, s)
			}
			return k.normalizeList(out), nil
		}
	}
	return nil, fmt.Errorf("%s: value %v (%T) is not a %s", k.Name, v, v, k.Type)
}

// exportValue returns the YAML form of v: sizes are human strings when that
// form round-trips exactly.
func (k Key) exportValue(v any) any {
	if k.Type != TypeSize {
		return v
	}
	n, _ := v.(int64)
	if s := FormatSize(n); mustParseSize(s) == n {
		return s
	}
	return n
}

func (k Key) normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if k.normalize != nil {
			item = k.normalize(item)
		}
		if item != "" && !slices.Contains(out, item) {
			out = append(out, item)
		}
	}
	return out
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// ParseSize parses a byte size. Unit suffixes are binary: "5MB" and "5MiB"
// both mean 5*1024*1024.
func ParseSize(s string) (int64, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return n, nil
}

// FormatSize renders n with a binary unit, e.g. "100MiB".
func FormatSize(n int64) string {
	return units.BytesSize(float64(n))
}

func mustParseSize(s string) int64 {
	n, err := ParseSize(s)
	if err != nil {
		return -1
	}
	return n
}
