package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/content"
)

// CheckinOptions holds flags for the checkin command.
type CheckinOptions struct {
	*RootOptions
	Yes bool
}

// CheckinOutput is the output of checkin.
type CheckinOutput struct {
	Results  []content.CheckinResult `json:"results"`
	Failures []FailedPath            `json:"failures"`
}

// FailedPath is one path that could not be processed.
type FailedPath struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RenderText implements TextRenderer.
func (o CheckinOutput) RenderText(w io.Writer) {
	for _, r := range o.Results {
		state := "stored"
		if r.Deduplicated {
			state = "already stored"
		}
		fmt.Fprintf(w, "%s  %s  %s (%s)\n", r.Digest, r.Path, state, humanSize(r.Size))
	}
	for _, f := range o.Failures {
		fmt.Fprintf(w, "FAILED  %s  [%s] %s\n", f.Path, f.Code, f.Message)
	}
}

// NewCheckinCommand creates the checkin command.
func NewCheckinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkin <path>...",
		Short: "Store files in the cabinet",
		Long: `Copy files into the cabinet under their content digest.

The copy is verified against the source digest before it is kept. Content
that is already stored is not copied again. Batches larger than
file.checkin.max_files_at_once.warning need --yes.

Example:
  cabinet checkin invoice.pdf
  cabinet checkin --yes scans/*.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckin(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm large batches")

	return cmd
}

func runCheckin(opts *CheckinOptions, paths []string, cmd *cobra.Command) error {
	logger := opts.logger(cmd)
	c, err := opts.openCabinet(cmd)
	if err != nil {
		return err
	}
	defer closeCabinet(c, logger)

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	batch, err := c.CheckinAll(ctx, paths, opts.Yes)
	if err != nil && len(batch.Results) == 0 && len(batch.Failures) == 0 {
		return Fail("checkin failed", err)
	}

	out := CheckinOutput{Results: batch.Results, Failures: []FailedPath{}}
	for _, f := range batch.Failures {
		out.Failures = append(out.Failures, FailedPath{Path: f.Path, Code: ErrorCode(f.Err), Message: f.Err.Error()})
	}
	if ferr := opts.formatter(cmd).Success(out); ferr != nil {
		return ferr
	}

	var exitErr *ExitError
	switch {
	case err != nil:
		exitErr = Fail("checkin stopped", err)
	case len(batch.Failures) == 1 && len(paths) == 1:
		exitErr = Fail("checkin failed", batch.Failures[0].Err)
	case len(batch.Failures) > 0:
		return ReportedExitError(ExitFailure, fmt.Sprintf("%d of %d files failed", len(batch.Failures), len(paths)))
	default:
		return nil
	}
	exitErr.Reported = true
	return exitErr
}

// CheckoutOptions holds flags for the checkout command.
type CheckoutOptions struct {
	*RootOptions
	Force bool
}

// CheckoutOutput is the output of checkout.
type CheckoutOutput struct {
	content.CheckoutResult
}

// RenderText implements TextRenderer.
func (o CheckoutOutput) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s -> %s (%s, verified)\n", o.Digest, o.Path, humanSize(o.Size))
}

// NewCheckoutCommand creates the checkout command.
func NewCheckoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkout <digest> <dest>",
		Short: "Copy stored content out of the cabinet",
		Long: `Write a verified copy of stored content to dest.

When dest is a directory the file takes the name of a known location of the
content. A copy that does not match its digest is never written.

Example:
  cabinet checkout sha256:9f86d0... ./restored.pdf
  cabinet checkout sha256:9f86d0... ~/Desktop --force`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckout(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing destination file")

	return cmd
}

func runCheckout(opts *CheckoutOptions, rawDigest, dest string, cmd *cobra.Command) error {
	digest, err := checksum.ParseDigest(rawDigest)
	if err != nil {
		return WrapExitError(ExitUsage, "invalid digest", err)
	}

	logger := opts.logger(cmd)
	c, err := opts.openCabinet(cmd)
	if err != nil {
		return err
	}
	defer closeCabinet(c, logger)

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	res, err := c.Checkout(ctx, digest, dest, content.CheckoutOptions{Overwrite: opts.Force})
	if err != nil {
		return Fail("checkout failed", err)
	}
	return opts.formatter(cmd).Success(CheckoutOutput{res})
}
