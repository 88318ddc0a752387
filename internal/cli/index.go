package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/hellisbugfree/filing-cabinet/internal/cabinet"
	"github.com/hellisbugfree/filing-cabinet/internal/indexer"
)

// IndexOptions holds flags for the index command.
type IndexOptions struct {
	*RootOptions
	Prune          bool
	Since          dateFlag
	Until          dateFlag
	Extensions     []string
	MinSize        sizeFlag
	MaxSize        sizeFlag
	NoRecursive    bool
	FollowSymlinks bool
	Workers        int
}

// IndexResult is the output of index.
type IndexResult struct {
	indexer.Summary
	Errors []IndexError `json:"errors,omitempty"`
}

// IndexError is one per-file failure.
type IndexError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RenderText implements TextRenderer.
func (r IndexResult) RenderText(w io.Writer) {
	s := r.Summary
	state := "complete"
	if s.Cancelled {
		state = "cancelled"
	}
	fmt.Fprintf(w, "Index %s: %s (run %s)\n", state, s.Root, s.RunID)
	fmt.Fprintf(w, "  scanned:      %d\n", s.Scanned)
	fmt.Fprintf(w, "  matched:      %d\n", s.Matched)
	fmt.Fprintf(w, "  new files:    %d\n", s.NewFiles)
	fmt.Fprintf(w, "  new paths:    %d\n", s.NewIncarnations)
	fmt.Fprintf(w, "  updated:      %d (%d changed content)\n", s.UpdatedIncarnations, s.ChangedDigests)
	fmt.Fprintf(w, "  skipped:      %d by filter, %d by error, %d symlinks\n", s.SkippedByFilter, s.SkippedByError, s.SkippedSymlinks)
	if s.Removed > 0 {
		fmt.Fprintf(w, "  removed:      %d\n", s.Removed)
	}
	fmt.Fprintf(w, "  elapsed:      %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  ! %s: %s\n", e.Path, e.Message)
	}
}

// NewIndexCommand creates the index command.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Record where content lives",
		Long: `Walk a directory and record every matching file as a location of its
content. Content is hashed but not copied into the cabinet.

Filters default to the cabinet settings (file.index.* and indexing.*).
Ctrl-C stops the walk; files already being hashed are still recorded.

Example:
  cabinet index ~/Documents
  cabinet index . --ext pdf --ext png --since 2024-01-01 --prune`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runIndex(opts, root, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "forget paths under the root that no longer exist")
	cmd.Flags().Var(&opts.Since, "since", "only files modified on or after this date (YYYY-MM-DD)")
	cmd.Flags().Var(&opts.Until, "until", "only files modified before the end of this date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&opts.Extensions, "ext", nil, "file extensions to include (repeatable)")
	cmd.Flags().Var(&opts.MinSize, "min-size", "minimum file size (e.g. 10KB)")
	cmd.Flags().Var(&opts.MaxSize, "max-size", "maximum file size (e.g. 100MiB)")
	cmd.Flags().BoolVar(&opts.NoRecursive, "no-recursive", false, "do not descend into subdirectories")
	cmd.Flags().BoolVar(&opts.FollowSymlinks, "follow-symlinks", false, "descend into symlinked directories")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent hashing workers (default indexing.workers)")

	return cmd
}

func runIndex(opts *IndexOptions, root string, cmd *cobra.Command) error {
	logger := opts.logger(cmd)
	c, err := opts.openCabinet(cmd)
	if err != nil {
		return err
	}
	defer closeCabinet(c, logger)

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	policy, err := c.Policy(ctx)
	if err != nil {
		return Fail("failed to read settings", err)
	}
	filters := opts.filters(indexer.FiltersFromPolicy(policy, time.Now()), cmd)
	opts.formatter(cmd).VerboseLog("Indexing %s (extensions %v, recursive %t)", root, filters.Extensions, filters.Recursive)

	sum, err := c.Index(ctx, root, cabinet.IndexRequest{Filters: &filters, Workers: opts.Workers, Prune: opts.Prune})
	cancelled := sum.Cancelled && ctx.Err() != nil
	if err != nil && !cancelled {
		return Fail("index failed", err)
	}

	res := IndexResult{Summary: sum}
	for _, fe := range sum.Errors {
		res.Errors = append(res.Errors, IndexError{Path: fe.Path, Code: ErrorCode(fe.Err), Message: fe.Err.Error()})
	}
	if err := opts.formatter(cmd).Success(res); err != nil {
		return err
	}
	if cancelled {
		return ReportedExitError(ExitInterrupted, "index interrupted")
	}
	return nil
}

// filters applies the command-line overrides to the policy filters.
func (o *IndexOptions) filters(f indexer.Filters, cmd *cobra.Command) indexer.Filters {
	if o.Since.set {
		f.Since = o.Since.value
	}
	if o.Until.set {
		f.Until = o.Until.value.AddDate(0, 0, 1)
	}
	if cmd.Flags().Changed("ext") {
		f.Extensions = nil
		for _, e := range o.Extensions {
			if e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), ".")); e != "" {
				f.Extensions = append(f.Extensions, e)
			}
		}
	}
	if o.MinSize.set {
		f.MinSize = o.MinSize.value
	}
	if o.MaxSize.set {
		f.MaxSize = o.MaxSize.value
	}
	if o.NoRecursive {
		f.Recursive = false
	}
	if o.FollowSymlinks {
		f.FollowSymlinks = true
	}
	return f
}

// humanSize renders a byte count for text output.
func humanSize(n int64) string {
	return units.BytesSize(float64(n))
}
