package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
)

// VerifyOutput is the output of verify.
type VerifyOutput struct {
	Checked  int           `json:"checked"`
	Failures []VerifyError `json:"failures"`
}

// VerifyError is one blob that failed verification.
type VerifyError struct {
	Digest  checksum.Digest `json:"digest"`
	Path    string          `json:"path,omitempty"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

// RenderText implements TextRenderer.
func (o VerifyOutput) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Verified %d stored file(s), %d failed\n", o.Checked, len(o.Failures))
	for _, f := range o.Failures {
		if f.Path != "" {
			fmt.Fprintf(w, "  CHANGED  %s  %s\n", f.Path, f.Message)
			continue
		}
		fmt.Fprintf(w, "  CORRUPT  %s  %s\n", f.Digest, f.Message)
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "verify [digest...]",
		Short: "Re-hash stored content",
		Long: `Re-hash canonical copies and compare them with their digests.

Without arguments every stored file is checked. --file re-hashes an
indexed file in place and compares it with the digest it was recorded with.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, files, cmd)
		},
	}
	cmd.Flags().StringArrayVar(&files, "file", nil, "Indexed file to re-hash (repeatable)")
	return cmd
}

func runVerify(opts *RootOptions, args, files []string, cmd *cobra.Command) error {
	digests := make([]checksum.Digest, 0, len(args))
	for _, a := range args {
		d, err := checksum.ParseDigest(a)
		if err != nil {
			return WrapExitError(ExitUsage, "invalid digest", err)
		}
		digests = append(digests, d)
	}

	logger := opts.logger(cmd)
	c, err := opts.openCabinet(cmd)
	if err != nil {
		return err
	}
	defer closeCabinet(c, logger)

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	out := VerifyOutput{Failures: []VerifyError{}}
	if len(digests) == 0 && len(files) == 0 {
		report, err := c.VerifyAll(ctx)
		if err != nil {
			return Fail("verify failed", err)
		}
		out.Checked = report.Checked
		for _, f := range report.Failures {
			out.Failures = append(out.Failures, VerifyError{Digest: f.Digest, Code: ErrorCode(f.Err), Message: f.Reason})
		}
	} else {
		for _, d := range digests {
			err := c.Verify(ctx, d)
			if err != nil && ExitCodeFor(err) != ExitIntegrity {
				return Fail("verify failed", err)
			}
			out.Checked++
			if err != nil {
				out.Failures = append(out.Failures, VerifyError{Digest: d, Code: ErrorCode(err), Message: err.Error()})
			}
		}
		for _, p := range files {
			inc, err := c.VerifyPath(ctx, p)
			if err != nil && ExitCodeFor(err) != ExitIntegrity {
				return Fail("verify failed", err)
			}
			out.Checked++
			if err != nil {
				out.Failures = append(out.Failures, VerifyError{Digest: inc.Digest, Path: inc.Path, Code: ErrorCode(err), Message: err.Error()})
			}
		}
	}

	if err := opts.formatter(cmd).Success(out); err != nil {
		return err
	}
	if len(out.Failures) > 0 {
		return ReportedExitError(ExitIntegrity, fmt.Sprintf("%d stored file(s) failed verification", len(out.Failures)))
	}
	return nil
}
