package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dyluth/lodge/internal/resolver"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Out and Err are where messages go. Tests redirect them.
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// SetOutput redirects stdout and stderr output, returning a func that restores them.
func SetOutput(out, errOut io.Writer) func() {
	prevOut, prevErr := Out, Err
	Out, Err = out, errOut
	return func() { Out, Err = prevOut, prevErr }
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Fprintf(Out, "✓ %s", msg)
	} else {
		green.Fprint(Out, msg)
	}
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Fprintf(Out, "⚠️  %s", msg)
	} else {
		yellow.Fprint(Out, msg)
	}
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext creates a formatted error with context details
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(Err, "\n")
		for _, key := range keys {
			fmt.Fprintf(Err, "  %s: %s\n", key, context[key])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(Err, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(Err, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(Err, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(Err, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// FromError renders a core error as a titled failure with remediation and
// returns the error for Cobra. action names what was attempted ("lock src/foo").
func FromError(action string, err error) error {
	var amb *resolver.AmbiguousError
	if errors.As(err, &amb) {
		return Error(fmt.Sprintf("Cannot %s: ambiguous contract id", action), resolver.FormatAmbiguousError(amb), nil)
	}

	var be *board.Error
	if !errors.As(err, &be) {
		return Error(fmt.Sprintf("Failed to %s", action), err.Error(), nil)
	}

	title := fmt.Sprintf("Cannot %s: %s", action, be.Code)
	switch be.Code {
	case board.CodeLockTimeout:
		return Error(title, be.Detail, []string{
			"Retry in a moment; another agent is holding the coordination gate",
			"Raise gate.timeout in lodge.yml if agents routinely contend",
		})
	case board.CodeResourceAlreadyLocked:
		return Error(title, be.Detail, []string{
			"Wait for the holder to unlock, or for the lock to go stale",
			"Coordinate with the holder via 'lodge mail send'",
			"Override with --force if the holder is gone",
		})
	case board.CodePermissionDenied:
		return Error(title, be.Detail, []string{"Only the holder can unlock; use --force to override"})
	case board.CodeContractNotFound:
		return Error(title, be.Detail, []string{"List contracts with: lodge contract list"})
	case board.CodeInvalidStateTransition:
		return Error(title, be.Detail, []string{"Inspect the contract with: lodge contract show <id>"})
	case board.CodeSafeguardTripped:
		return Error(title, be.Detail, []string{"Complete, fail or cancel the contract, then propose a new one"})
	default:
		return Error(title, be.Detail, nil)
	}
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Fprintln(Out, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}
