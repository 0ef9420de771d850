// Package errdefs defines the error taxonomy shared across the backup engine.
// Callers match these with errors.As; every type supports Unwrap so wrapped
// causes stay reachable.
package errdefs

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports malformed or implausible input: a missing file, an
// unrecognized archive format, an artifact too small to be a real backup.
type ValidationError struct {
	Subject string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Subject, e.Reason)
}

// IntegrityError reports a checksum mismatch between an artifact on disk and
// the digest recorded at creation time.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// ChainError reports a broken or cyclic parent linkage in an incremental
// backup chain.
type ChainError struct {
	BackupID string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("backup chain error at %s: %s", e.BackupID, e.Reason)
}

// ExternalToolError reports a failure from an underlying primitive: the WSL
// binary, or an archive command executed inside a distribution.
type ExternalToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Tool, strings.Join(e.Args, " "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += " (" + strings.TrimSpace(e.Stderr) + ")"
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// TimeoutError reports a bounded operation that exceeded its allotted time and
// was forcibly terminated.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete within %s", e.Operation, e.Timeout)
}

// DependencyError reports a deletion blocked by incremental backups that still
// reference the record being removed.
type DependencyError struct {
	BackupID     string
	DependentIDs []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("backup %s has %d dependent incremental backup(s): %s (use cascade to delete the whole subtree)",
		e.BackupID, len(e.DependentIDs), strings.Join(e.DependentIDs, ", "))
}

// ConfigWarning reports a non-fatal post-restore configuration step failure.
// It is surfaced in results and logs but never fails the overall operation.
type ConfigWarning struct {
	Step string
	Err  error
}

func (e *ConfigWarning) Error() string {
	return fmt.Sprintf("configuration step %q failed: %v", e.Step, e.Err)
}

func (e *ConfigWarning) Unwrap() error { return e.Err }
