package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // The command ran and something it did failed
	ExitCommandError = 2 // Bad flags or arguments
)

// ReportedError is an error already shown to the user through the view sink
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string {
	return e.Err.Error()
}

func (e *ReportedError) Unwrap() error {
	return e.Err
}

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &ReportedError{Err: err}
}

// Execute runs the root command and returns the process exit code.
// Errors not yet shown are printed to errOut.
func Execute(ctx context.Context, args []string, stdin io.Reader, out, errOut io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var shown *ReportedError
	if errors.As(err, &shown) {
		return ExitFailure
	}
	fmt.Fprintf(errOut, "Error: %v\n", err)
	if isUsageError(err) {
		return ExitCommandError
	}
	return ExitFailure
}

// isUsageError reports argument and flag errors cobra returns before RunE
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range usageErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

var usageErrorPrefixes = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"accepts ",
	"invalid argument",
	"invalid format",
	"invalid transport",
}
