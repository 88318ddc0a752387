package config

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hellisbugfree/filing-cabinet/internal/clock"
)

// Store persists raw config values. *store.Store implements it.
type Store interface {
	ReadConfig(ctx context.Context, key string) (string, bool, error)
	ReadAllConfig(ctx context.Context) (map[string]string, error)
	WriteConfig(ctx context.Context, values map[string]string, at time.Time) error
	DeleteConfig(ctx context.Context, keys ...string) error
}

// Entry is one row of List.
type Entry struct {
	Key         string `json:"key"`
	Type        Type   `json:"type"`
	Value       any    `json:"value"`
	Default     any    `json:"default"`
	IsDefault   bool   `json:"is_default"`
	Description string `json:"description"`
}

// Service reads and writes settings against the schema table.
type Service struct {
	store Store
	clock clock.Clock
}

// NewService creates a Service. A nil clock means the system clock.
func NewService(st Store, c clock.Clock) *Service {
	return &Service{store: st, clock: clock.Or(c)}
}

// Get returns the effective value of key: the stored value or the default.
func (s *Service) Get(ctx context.Context, name string) (any, error) {
	k, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	raw, ok, err := s.store.ReadConfig(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("config get %s: %w", name, err)
	}
	if !ok {
		return k.Default, nil
	}
	v, err := k.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("config get %s: stored value %q: %w", name, raw, err)
	}
	return v, nil
}

// Set parses raw for key, validates it and stores it.
func (s *Service) Set(ctx context.Context, name, raw string) error {
	k, err := Lookup(name)
	if err != nil {
		return err
	}
	v, err := k.Parse(raw)
	if err != nil {
		return err
	}
	return s.write(ctx, map[string]any{name: v})
}

// SetValue validates an already typed value and stores it.
func (s *Service) SetValue(ctx context.Context, name string, v any) error {
	k, err := Lookup(name)
	if err != nil {
		return err
	}
	typed, err := k.coerce(v)
	if err != nil {
		return err
	}
	return s.write(ctx, map[string]any{name: typed})
}

// Reset restores defaults for keys, or for every key when none are given.
func (s *Service) Reset(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := Lookup(name); err != nil {
			return err
		}
	}
	if err := s.store.DeleteConfig(ctx, names...); err != nil {
		return fmt.Errorf("config reset: %w", err)
	}
	return nil
}

// List returns every key with its effective value, sorted by key.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	values, err := s.effective(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.ReadAllConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("config list: %w", err)
	}

	entries := make([]Entry, 0, len(table))
	for _, k := range Keys() {
		_, overridden := stored[k.Name]
		entries = append(entries, Entry{
			Key:         k.Name,
			Type:        k.Type,
			Value:       values[k.Name],
			Default:     k.Default,
			IsDefault:   !overridden,
			Description: k.Description,
		})
	}
	return entries, nil
}

// Export writes every effective value as a YAML mapping.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	values, err := s.effective(ctx)
	if err != nil {
		return err
	}

	doc := make(map[string]any, len(values))
	for _, k := range table {
		doc[k.Name] = k.exportValue(values[k.Name])
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("config export: %w", err)
	}
	return enc.Close()
}

// Import reads a YAML mapping and stores every key in it. The whole document
// is validated first; on any problem nothing is written.
func (s *Service) Import(ctx context.Context, r io.Reader) error {
	var doc map[string]any
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("config import: parse yaml: %w", err)
	}
	if len(doc) == 0 {
		return nil
	}

	typed := make(map[string]any, len(doc))
	var unknown []string
	for _, name := range slices.Sorted(maps.Keys(doc)) {
		k, err := Lookup(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		typed[name], err = k.coerce(doc[name])
		if err != nil {
			return fmt.Errorf("config import: %w", err)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("config import: %w: %v", ErrUnknownKey, unknown)
	}
	return s.write(ctx, typed)
}

// effective returns the effective value of every key.
func (s *Service) effective(ctx context.Context) (map[string]any, error) {
	stored, err := s.store.ReadAllConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	values := make(map[string]any, len(table))
	for _, k := range table {
		raw, ok := stored[k.Name]
		if !ok {
			values[k.Name] = k.Default
			continue
		}
		v, err := k.decode(raw)
		if err != nil {
			return nil, fmt.Errorf("config: stored value of %s %q: %w", k.Name, raw, err)
		}
		values[k.Name] = v
	}
	return values, nil
}

// write validates typed values against the schema and the cross-key rules,
// then stores them in one transaction.
func (s *Service) write(ctx context.Context, typed map[string]any) error {
	if err := validate(typed); err != nil {
		return err
	}

	merged, err := s.effective(ctx)
	if err != nil {
		return err
	}
	maps.Copy(merged, typed)
	if err := checkRelations(merged); err != nil {
		return err
	}

	encoded := make(map[string]string, len(typed))
	for name, v := range typed {
		k, _ := Lookup(name)
		if encoded[name], err = k.encode(v); err != nil {
			return err
		}
	}
	if err := s.store.WriteConfig(ctx, encoded, s.clock.Now()); err != nil {
		return fmt.Errorf("config write: %w", err)
	}
	return nil
}

func checkRelations(values map[string]any) error {
	minSize, _ := values[KeyIndexMinSize].(int64)
	maxSize, _ := values[KeyIndexMaxSize].(int64)
	if minSize > maxSize {
		return &ValidationError{Problems: []string{fmt.Sprintf(
			"%s (%s) exceeds %s (%s)",
			KeyIndexMinSize, FormatSize(minSize), KeyIndexMaxSize, FormatSize(maxSize),
		)}}
	}
	return nil
}
