package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// schema is compiled once; a cue.Context is not safe for concurrent use.
var schema struct {
	once     sync.Once
	mu       sync.Mutex
	ctx      *cue.Context
	settings cue.Value
	err      error
}

func loadSchema() error {
	schema.once.Do(func() {
		schema.ctx = cuecontext.New()
		v := schema.ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schema.err = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schema.settings = v.LookupPath(cue.ParsePath("#Settings"))
		if err := schema.settings.Err(); err != nil {
			schema.err = fmt.Errorf("lookup #Settings: %w", err)
		}
	})
	return schema.err
}

// ValidationError lists every schema violation of one write.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid config: %d problems: %v", len(e.Problems), e.Problems)
}

// validate checks values against #Settings. Keys outside the schema are
// rejected because the definition is closed.
func validate(values map[string]any) error {
	if err := loadSchema(); err != nil {
		return err
	}
	schema.mu.Lock()
	defer schema.mu.Unlock()

	data := schema.ctx.Encode(values)
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	unified := schema.settings.Unify(data)
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	ve := &ValidationError{}
	for _, e := range errors.Errors(err) {
		ve.Problems = append(ve.Problems, strings.TrimSpace(errors.Details(e, nil)))
	}
	return ve
}
