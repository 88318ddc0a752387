package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hellisbugfree/filing-cabinet/internal/cabinet"
	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Name      string
	Algorithm string
}

// InitResult is the output of init.
type InitResult struct {
	Path      string             `json:"path"`
	Created   bool               `json:"created"`
	Algorithm checksum.Algorithm `json:"algorithm,omitempty"`
}

// RenderText implements TextRenderer.
func (r InitResult) RenderText(w io.Writer) {
	if r.Created {
		fmt.Fprintf(w, "Initialized cabinet at %s (%s)\n", r.Path, r.Algorithm)
		return
	}
	fmt.Fprintf(w, "Cabinet already exists at %s\n", r.Path)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a cabinet",
		Long: `Create a cabinet directory with its database and object store.

Running init on an existing cabinet changes nothing.

Example:
  cabinet init
  cabinet init --repo /srv/cabinet --name Archive --algorithm blake3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name of the cabinet")
	cmd.Flags().StringVar(&opts.Algorithm, "algorithm", string(checksum.DefaultAlgorithm), "digest algorithm (sha256|blake3)")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	dir, err := opts.repoDir()
	if err != nil {
		return WrapExitError(ExitUsage, "failed to locate cabinet", err)
	}
	algo, err := checksum.ParseAlgorithm(opts.Algorithm)
	if err != nil {
		return WrapExitError(ExitUsage, "invalid --algorithm", err)
	}

	created, err := cabinet.Init(commandContext(cmd), dir, cabinet.InitOptions{Name: opts.Name, Algorithm: algo})
	if err != nil {
		return Fail("failed to initialize cabinet", err)
	}
	res := InitResult{Path: dir, Created: created}
	if created {
		res.Algorithm = algo
	}
	return opts.formatter(cmd).Success(res)
}
