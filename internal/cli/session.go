package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hellisbugfree/filing-cabinet/internal/cabinet"
)

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// logger returns a text logger on stderr, at debug level with --verbose.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	logLevel := slog.LevelWarn
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

// repoDir resolves the cabinet directory from --repo or the defaults.
func (o *RootOptions) repoDir() (string, error) {
	if o.Repo != "" {
		return o.Repo, nil
	}
	return cabinet.DefaultDir()
}

// openCabinet opens the selected cabinet. The caller closes it.
func (o *RootOptions) openCabinet(cmd *cobra.Command) (*cabinet.Cabinet, error) {
	dir, err := o.repoDir()
	if err != nil {
		return nil, WrapExitError(ExitUsage, "failed to locate cabinet", err)
	}
	logger := o.logger(cmd)
	logger.Debug("opening cabinet", "path", dir)
	c, err := cabinet.Open(commandContext(cmd), dir, cabinet.Options{Logger: logger})
	if err != nil {
		return nil, Fail("failed to open cabinet", err)
	}
	return c, nil
}

func closeCabinet(c *cabinet.Cabinet, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("error closing cabinet", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(commandContext(cmd))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("received signal, finishing in-flight work", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}
