package exitcodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/johndauphine/wsl-backup/internal/errdefs"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, Success},
		{"path error", &os.PathError{Op: "open", Path: "/foo", Err: errors.New("no such file")}, IOError},
		{"yaml parse error", errors.New("yaml: unmarshal error"), ConfigError},
		{"no such file", errors.New("open config.yaml: no such file or directory"), IOError},
		{"validation error", &errdefs.ValidationError{Subject: "a.tar", Reason: "too small"}, ValidationError},
		{"integrity error", &errdefs.IntegrityError{Path: "a.tar", Expected: "sha256:a", Actual: "sha256:b"}, IntegrityError},
		{"chain error", &errdefs.ChainError{BackupID: "b-1", Reason: "parent missing"}, ChainError},
		{"tool error", &errdefs.ExternalToolError{Tool: "wsl.exe", Args: []string{"--export"}}, ToolError},
		{"timeout error", &errdefs.TimeoutError{Operation: "import", Timeout: time.Minute}, TimeoutError},
		{"dependency error", &errdefs.DependencyError{BackupID: "b-1", DependentIDs: []string{"b-2"}}, ValidationError},
		{"wrapped integrity error", fmt.Errorf("restoring: %w", &errdefs.IntegrityError{Path: "a"}), IntegrityError},
		{"context canceled", context.Canceled, Cancelled},
		{"context deadline", context.DeadlineExceeded, TimeoutError},
		{"checksum message", errors.New("checksum mismatch on artifact"), IntegrityError},
		{"unknown error", errors.New("something unexpected happened"), ToolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got != tt.expected {
				t.Errorf("FromError(%v) = %d (%s), want %d (%s)",
					tt.err, got, Description(got), tt.expected, Description(tt.expected))
			}
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner error")
	exitErr := NewExitError(inner, ChainError)

	if exitErr.Code != ChainError {
		t.Errorf("expected code %d, got %d", ChainError, exitErr.Code)
	}
	if exitErr.Error() != "inner error" {
		t.Errorf("expected error message 'inner error', got '%s'", exitErr.Error())
	}
	if errors.Unwrap(exitErr) != inner {
		t.Error("Unwrap should return inner error")
	}
	if FromError(exitErr) != ChainError {
		t.Errorf("FromError should extract code from ExitError")
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []int{ToolError, TimeoutError, Cancelled, IOError}
	nonRecoverable := []int{Success, ConfigError, ValidationError, IntegrityError, ChainError}

	for _, code := range recoverable {
		if !IsRecoverable(code) {
			t.Errorf("code %d (%s) should be recoverable", code, Description(code))
		}
	}
	for _, code := range nonRecoverable {
		if IsRecoverable(code) {
			t.Errorf("code %d (%s) should not be recoverable", code, Description(code))
		}
	}
}
