// Package exitcodes defines standard exit codes for CLI operations so that
// scheduled tasks and CI wrappers can distinguish retryable failures from
// permanent ones.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/wsl-backup/internal/errdefs"
)

const (
	// Success - operation completed without errors
	Success = 0

	// ConfigError - configuration/YAML parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// ValidationError - bad input: missing artifact, undersized file, unknown backup (non-recoverable)
	ValidationError = 2

	// IntegrityError - checksum mismatch on an artifact (non-recoverable)
	IntegrityError = 3

	// ChainError - broken or cyclic backup chain (non-recoverable)
	ChainError = 4

	// ToolError - wsl.exe or an in-distro command failed (recoverable)
	ToolError = 5

	// TimeoutError - import exceeded its deadline (recoverable)
	TimeoutError = 6

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 7

	// IOError - file I/O errors (recoverable)
	IOError = 8
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error. Typed errors
// map directly; anything else is classified from the message.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var (
		validationErr *errdefs.ValidationError
		integrityErr  *errdefs.IntegrityError
		chainErr      *errdefs.ChainError
		toolErr       *errdefs.ExternalToolError
		timeoutErr    *errdefs.TimeoutError
		depErr        *errdefs.DependencyError
	)
	switch {
	case errors.As(err, &integrityErr):
		return IntegrityError
	case errors.As(err, &chainErr):
		return ChainError
	case errors.As(err, &timeoutErr):
		return TimeoutError
	case errors.As(err, &toolErr):
		return ToolError
	case errors.As(err, &validationErr), errors.As(err, &depErr):
		return ValidationError
	}

	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"unmarshal",
		"invalid configuration",
		"missing required",
		"invalid value",
		"parsing config",
	}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"timed out",
		"deadline",
	}) {
		return TimeoutError
	}

	if containsAny(errStr, []string{
		"checksum",
		"digest",
	}) {
		return IntegrityError
	}

	// Default to tool error for unknown failures
	return ToolError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ToolError, TimeoutError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ValidationError:
		return "validation error"
	case IntegrityError:
		return "integrity error"
	case ChainError:
		return "chain error"
	case ToolError:
		return "tool error (recoverable)"
	case TimeoutError:
		return "timeout (recoverable)"
	case Cancelled:
		return "cancelled (recoverable)"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
