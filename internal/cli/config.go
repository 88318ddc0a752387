package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hellisbugfree/filing-cabinet/internal/config"
)

// ConfigValue is the output of config get and set.
type ConfigValue struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	display string
}

// RenderText implements TextRenderer.
func (v ConfigValue) RenderText(w io.Writer) {
	fmt.Fprintln(w, v.display)
}

// ConfigList is the output of config list.
type ConfigList struct {
	Entries []config.Entry `json:"entries"`
}

// RenderText implements TextRenderer.
func (l ConfigList) RenderText(w io.Writer) {
	for _, e := range l.Entries {
		k, _ := config.Lookup(e.Key)
		marker := " "
		if !e.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-40s %s\n", marker, e.Key, k.Format(e.Value))
	}
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change cabinet settings",
		Long: `Read and change the settings stored in the cabinet.

Sizes accept units ("5MB", "100MiB"); lists are comma separated.
Every change is validated before it is stored.`,
	}

	cmd.AddCommand(newConfigGetCommand(rootOpts))
	cmd.AddCommand(newConfigSetCommand(rootOpts))
	cmd.AddCommand(newConfigResetCommand(rootOpts))
	cmd.AddCommand(newConfigListCommand(rootOpts))
	cmd.AddCommand(newConfigExportCommand(rootOpts))
	cmd.AddCommand(newConfigImportCommand(rootOpts))

	return cmd
}

// configFail reports a settings error. Rejections of the input are usage
// errors; store failures keep their own code.
func configFail(message string, err error) *ExitError {
	code := ExitCodeFor(err)
	if code == ExitFailure {
		code = ExitUsage
	}
	return WrapExitError(code, message, err)
}

func newConfigGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := config.Lookup(args[0])
			if err != nil {
				return configFail("unknown setting", err)
			}
			logger := opts.logger(cmd)
			c, err := opts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			v, err := c.Config().Get(commandContext(cmd), k.Name)
			if err != nil {
				return configFail("failed to read setting", err)
			}
			return opts.formatter(cmd).Success(ConfigValue{Key: k.Name, Value: v, display: k.Format(v)})
		},
	}
}

func newConfigSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger(cmd)
			c, err := opts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			ctx := commandContext(cmd)
			if err := c.SetConfig(ctx, args[0], args[1]); err != nil {
				return configFail("failed to set "+args[0], err)
			}
			k, _ := config.Lookup(args[0])
			v, err := c.Config().Get(ctx, k.Name)
			if err != nil {
				return configFail("failed to read setting", err)
			}
			return opts.formatter(cmd).Success(ConfigValue{Key: k.Name, Value: v, display: k.Name + " = " + k.Format(v)})
		},
	}
}

func newConfigResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [key...]",
		Short: "Restore defaults (all settings when no key is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger(cmd)
			c, err := opts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			if err := c.ResetConfig(commandContext(cmd), args...); err != nil {
				return configFail("failed to reset settings", err)
			}
			msg := "All settings reset to defaults"
			if len(args) > 0 {
				msg = fmt.Sprintf("Reset %d setting(s) to defaults", len(args))
			}
			return opts.formatter(cmd).Success(msg)
		},
	}
}

func newConfigListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every setting (* marks changed values)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger(cmd)
			c, err := opts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			entries, err := c.Config().List(commandContext(cmd))
			if err != nil {
				return configFail("failed to list settings", err)
			}
			return opts.formatter(cmd).Success(ConfigList{Entries: entries})
		},
	}
}

func newConfigExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write settings as YAML (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger(cmd)
			c, err := opts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			ctx := commandContext(cmd)
			if len(args) == 0 || args[0] == "-" {
				if err := c.Config().Export(ctx, cmd.OutOrStdout()); err != nil {
					return configFail("failed to export settings", err)
				}
				return nil
			}

			f, err := os.Create(args[0])
			if err != nil {
				return WrapExitError(ExitTransientIO, "failed to create export file", err)
			}
			if err := c.Config().Export(ctx, f); err != nil {
				f.Close()
				return configFail("failed to export settings", err)
			}
			if err := f.Close(); err != nil {
				return WrapExitError(ExitTransientIO, "failed to write export file", err)
			}
			return opts.formatter(cmd).Success(fmt.Sprintf("Settings exported to %s", args[0]))
		},
	}
}

func newConfigImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Load settings from YAML; nothing is stored if any value is invalid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitNotFound, "failed to open import file", err)
				}
				defer f.Close()
				r = f
			}

			logger := opts.logger(cmd)
			c, err := opts.openCabinet(cmd)
			if err != nil {
				return err
			}
			defer closeCabinet(c, logger)

			if err := c.ImportConfig(commandContext(cmd), r); err != nil {
				return configFail("failed to import settings", err)
			}
			return opts.formatter(cmd).Success("Settings imported")
		},
	}
}
