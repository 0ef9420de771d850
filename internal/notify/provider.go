package notify

import "time"

// Provider defines the notification contract for backup lifecycle events.
// This interface allows for different notification backends (Slack, email, etc.)
// and enables easier testing through mock implementations.
type Provider interface {
	// BackupCompleted sends notification when a backup finishes.
	BackupCompleted(distro, backupType, backupID string, sizeBytes int64, duration time.Duration) error

	// BackupFailed sends notification when a backup fails.
	BackupFailed(distro string, err error, duration time.Duration) error

	// RestoreCompleted sends notification when a restore finishes.
	RestoreCompleted(target, backupID string, stepsApplied int, duration time.Duration) error

	// RestoreFailed sends notification when a restore fails.
	RestoreFailed(target string, err error, duration time.Duration) error

	// DeploymentFinished sends a summary notification after a batch deployment.
	DeploymentFinished(pkgPath string, total, succeeded, failed int, duration time.Duration, failures []string) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
