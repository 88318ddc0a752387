package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hellisbugfree/filing-cabinet/internal/cabinet"
	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

// StatusOutput is the output of status.
type StatusOutput struct {
	cabinet.Status
}

// RenderText implements TextRenderer.
func (o StatusOutput) RenderText(w io.Writer) {
	s := o.Status
	fmt.Fprintf(w, "Cabinet:       %s\n", s.Name)
	fmt.Fprintf(w, "Path:          %s\n", s.Path)
	fmt.Fprintf(w, "Schema:        v%d\n", s.SchemaVersion)
	fmt.Fprintf(w, "Algorithm:     %s\n", s.Algorithm)
	fmt.Fprintf(w, "Files:         %d (%d stored)\n", s.Files, s.StoredFiles)
	fmt.Fprintf(w, "Incarnations:  %d\n", s.Incarnations)
	fmt.Fprintf(w, "Size:          %s (database %s, objects %s)\n", humanSize(s.Size), humanSize(s.DatabaseSize), humanSize(s.ObjectsSize))
	fmt.Fprintf(w, "Checksum:      %s\n", s.Checksum)
	fmt.Fprintf(w, "Device:        %s (%s, %s)\n", s.Device.ID, s.Device.Hostname, s.Device.Platform)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cabinet summary",
		Long: `Show the cabinet location, counts, size on disk and the repository
checksum over all stored content.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rootOpts.logger(cmd)
			c, err := rootOpts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			st, err := c.Status(commandContext(cmd))
			if err != nil {
				return Fail("failed to read status", err)
			}
			return rootOpts.formatter(cmd).Success(StatusOutput{st})
		},
	}
}

// FindOutput is the output of find.
type FindOutput struct {
	File         *model.File         `json:"file,omitempty"`
	Incarnations []model.Incarnation `json:"incarnations"`
}

// RenderText implements TextRenderer.
func (o FindOutput) RenderText(w io.Writer) {
	if o.File != nil {
		state := "indexed only"
		if o.File.StoredAt != nil {
			state = "stored " + o.File.StoredAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s  %s  %s\n", o.File.Digest, humanSize(o.File.Size), state)
	}
	renderIncarnations(w, o.Incarnations)
}

func renderIncarnations(w io.Writer, incs []model.Incarnation) {
	for _, inc := range incs {
		line := fmt.Sprintf("  %s:%s", inc.DeviceID, inc.Path)
		if inc.Kind == model.KindSymlink {
			line += " -> " + inc.Target
		}
		fmt.Fprintf(w, "%s  (%s, seen %s)\n", line, inc.Digest.Short(), inc.LastSeenAt.Local().Format(time.DateTime))
	}
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find <digest|path>",
		Short: "Show where content lives",
		Long: `Given a digest, show the File and every known location of its content.
Given a path, show what is recorded for that path on this device.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(rootOpts, args[0], cmd)
		},
	}
}

func runFind(opts *RootOptions, arg string, cmd *cobra.Command) error {
	logger := opts.logger(cmd)
	c, err := opts.openCabinet(cmd)
	if err != nil {
		return err
	}
	defer closeCabinet(c, logger)
	ctx := commandContext(cmd)

	out := FindOutput{Incarnations: []model.Incarnation{}}
	digest, perr := checksum.ParseDigest(arg)
	if perr != nil {
		inc, err := c.FindPath(ctx, arg)
		if err != nil {
			return Fail("find failed", err)
		}
		digest = inc.Digest
	}

	f, err := c.Find(ctx, digest)
	if err != nil {
		return Fail("find failed", err)
	}
	out.File = &f
	for inc, err := range c.IncarnationsOf(ctx, digest) {
		if err != nil {
			return Fail("find failed", err)
		}
		out.Incarnations = append(out.Incarnations, inc)
	}
	return opts.formatter(cmd).Success(out)
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <path>...",
		Short: "Forget recorded locations",
		Long: `Forget the recorded locations on this device. Files on disk and stored
content are not touched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rootOpts.logger(cmd)
			c, err := rootOpts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			removed := []string{}
			for _, p := range args {
				if err := c.Remove(commandContext(cmd), p); err != nil {
					return Fail("remove failed", err)
				}
				removed = append(removed, p)
			}
			return rootOpts.formatter(cmd).Success(RemoveOutput{Removed: removed})
		},
	}
}

// RemoveOutput is the output of remove.
type RemoveOutput struct {
	Removed []string `json:"removed"`
}

// RenderText implements TextRenderer.
func (o RemoveOutput) RenderText(w io.Writer) {
	for _, p := range o.Removed {
		fmt.Fprintf(w, "Removed %s\n", p)
	}
}

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Limit int
}

// SearchOutput is the output of search.
type SearchOutput struct {
	Incarnations []model.Incarnation `json:"incarnations"`
}

// RenderText implements TextRenderer.
func (o SearchOutput) RenderText(w io.Writer) {
	if len(o.Incarnations) == 0 {
		fmt.Fprintln(w, "No matches")
		return
	}
	renderIncarnations(w, o.Incarnations)
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find recorded paths containing text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger(cmd)
			c, err := opts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			incs, err := c.Search(commandContext(cmd), args[0], opts.Limit)
			if err != nil {
				return Fail("search failed", err)
			}
			return opts.formatter(cmd).Success(SearchOutput{Incarnations: incs})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum results (0 for all)")

	return cmd
}

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Limit int
}

// RunsOutput is the output of runs.
type RunsOutput struct {
	Runs []model.IndexRun `json:"runs"`
}

// RenderText implements TextRenderer.
func (o RunsOutput) RenderText(w io.Writer) {
	if len(o.Runs) == 0 {
		fmt.Fprintln(w, "No index runs")
		return
	}
	for _, r := range o.Runs {
		state := ""
		if r.Cancelled {
			state = " (cancelled)"
		}
		fmt.Fprintf(w, "%s  %s  %s  matched=%d new=%d changed=%d removed=%d errors=%d%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Root,
			r.Matched, r.NewIncarnations, r.ChangedDigests, r.Removed, r.SkippedByError, state)
	}
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent index runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger(cmd)
			c, err := opts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			runs, err := c.Runs(commandContext(cmd), opts.Limit)
			if err != nil {
				return Fail("failed to read runs", err)
			}
			return opts.formatter(cmd).Success(RunsOutput{Runs: runs})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum runs to show (0 for all)")

	return cmd
}
