package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hellisbugfree/filing-cabinet/internal/config"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
)

// Exit codes for CLI commands.
const (
	ExitSuccess          = 0   // Successful execution
	ExitFailure          = 1   // Partial failure (some files in a batch failed)
	ExitUsage            = 2   // Bad arguments, flags or settings
	ExitPolicyRejected   = 3   // Refused by the safety policy
	ExitNotFound         = 4   // Unknown digest, path or cabinet
	ExitIntegrity        = 5   // Stored content does not match its digest
	ExitTransientIO      = 6   // Filesystem error, may succeed on retry
	ExitStoreUnavailable = 7   // Database cannot be opened or written
	ExitInterrupted      = 130 // Cancelled by SIGINT/SIGTERM
)

// Error codes used in JSON output for errors that carry no fault code.
const (
	ErrCodeUsage       = "USAGE"
	ErrCodeFailure     = "FAILURE"
	ErrCodeInterrupted = "INTERRUPTED"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the command already wrote its result, so JSON
	// output must not get a second document.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ReportedExitError is an ExitError for a command that already wrote its
// output (partial failures).
func ReportedExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message, Reported: true}
}

// Fail wraps err with the exit code matching its classification.
func Fail(message string, err error) *ExitError {
	return WrapExitError(ExitCodeFor(err), message, err)
}

// ExitCodeFor maps an error to an exit code by its fault code.
func ExitCodeFor(err error) int {
	switch fault.CodeOf(err) {
	case fault.CodePolicyRejected:
		return ExitPolicyRejected
	case fault.CodeNotFound:
		return ExitNotFound
	case fault.CodeIntegrity:
		return ExitIntegrity
	case fault.CodeTransientIO:
		return ExitTransientIO
	case fault.CodeStoreUnavailable:
		return ExitStoreUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	var verr *config.ValidationError
	if errors.As(err, &verr) || errors.Is(err, config.ErrUnknownKey) {
		return ExitUsage
	}
	return ExitFailure
}

// GetExitCode extracts the exit code from an error.
// Errors that did not come from a command (flag parsing, argument counts)
// are usage errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}

// ErrorCode returns the code reported in the JSON error envelope.
func ErrorCode(err error) string {
	if code := fault.CodeOf(err); code != "" {
		return string(code)
	}
	switch GetExitCode(err) {
	case ExitUsage:
		return ErrCodeUsage
	case ExitInterrupted:
		return ErrCodeInterrupted
	default:
		return ErrCodeFailure
	}
}

// TextRenderer is implemented by results with a human-readable form.
type TextRenderer interface {
	RenderText(w io.Writer)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // fault code, or USAGE/FAILURE/INTERRUPTED
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	if r, ok := data.(TextRenderer); ok {
		r.RenderText(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format. Text errors go to the
// error writer so they never mix with command output.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	w := f.GetErrWriter()
	fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(w, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
