package indexer

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

// FileError is a per-entry failure recorded during a pass.
type FileError struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Summary reports the outcome of one index pass.
type Summary struct {
	RunID    string `json:"run_id"`
	Root     string `json:"root"`
	DeviceID string `json:"device_id"`

	Scanned         int `json:"scanned"`
	Matched         int `json:"matched"`
	SkippedByFilter int `json:"skipped_by_filter"`
	SkippedByError  int `json:"skipped_by_error"`
	SkippedSymlinks int `json:"skipped_symlinks"`

	NewFiles            int `json:"new_files"`
	NewIncarnations     int `json:"new_incarnations"`
	UpdatedIncarnations int `json:"updated_incarnations"`
	ChangedDigests      int `json:"changed_digests"`
	Removed             int `json:"removed"`

	// Cancelled is set when the pass stopped early. Counts cover the
	// entries processed before it stopped.
	Cancelled bool `json:"cancelled"`

	Errors []FileError `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Err combines the per-entry errors, or returns nil.
func (s Summary) Err() error {
	var err error
	for _, fe := range s.Errors {
		err = multierr.Append(err, fe)
	}
	return err
}

// Run converts the summary into its persisted form.
func (s Summary) Run() model.IndexRun {
	return model.IndexRun{
		ID:                  s.RunID,
		Root:                s.Root,
		DeviceID:            s.DeviceID,
		StartedAt:           s.StartedAt,
		FinishedAt:          s.FinishedAt,
		Scanned:             s.Scanned,
		Matched:             s.Matched,
		SkippedByFilter:     s.SkippedByFilter,
		SkippedByError:      s.SkippedByError,
		SkippedSymlinks:     s.SkippedSymlinks,
		NewFiles:            s.NewFiles,
		NewIncarnations:     s.NewIncarnations,
		UpdatedIncarnations: s.UpdatedIncarnations,
		ChangedDigests:      s.ChangedDigests,
		Removed:             s.Removed,
		Cancelled:           s.Cancelled,
	}
}
