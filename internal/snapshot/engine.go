// Package snapshot produces full and incremental backups of WSL
// distributions and registers them in the metadata store.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/johndauphine/wsl-backup/internal/config"
	"github.com/johndauphine/wsl-backup/internal/errdefs"
	"github.com/johndauphine/wsl-backup/internal/integrity"
	"github.com/johndauphine/wsl-backup/internal/logging"
	"github.com/johndauphine/wsl-backup/internal/store"
	"github.com/johndauphine/wsl-backup/internal/wsl"
)

// changedFileList is the scratch path inside the distribution that holds the
// enumerated change set while the incremental archive is produced.
const changedFileList = "/tmp/.wsl-backup-changed"

// Engine creates backups via the WSL export primitive
type Engine struct {
	client wsl.Client
	store  *store.Store
	cfg    *config.Config
}

// NewEngine creates a snapshot engine
func NewEngine(client wsl.Client, st *store.Store, cfg *config.Config) *Engine {
	return &Engine{client: client, store: st, cfg: cfg}
}

// IncrementalResult reports what CreateIncremental actually produced. The
// engine falls back to a full backup when change detection or archiving
// fails, and skips entirely when nothing changed; both outcomes are
// observable here and in the record's BackupType.
type IncrementalResult struct {
	Record   *store.BackupRecord
	Skipped  bool // no files changed, no record appended
	FellBack bool // incremental path failed, a full backup was produced
}

// CreateFull exports a complete snapshot of the distribution, computes its
// checksum, and appends a record to the store. A partially written artifact
// is removed before any error propagates.
func (e *Engine) CreateFull(ctx context.Context, distro string) (*store.BackupRecord, error) {
	artifact := e.artifactPath(distro, "full", ".tar")

	checksum, size, err := e.ExportArtifact(ctx, distro, artifact)
	if err != nil {
		return nil, err
	}

	rec := store.BackupRecord{
		ID:               uuid.New().String(),
		DistributionName: distro,
		BackupType:       store.TypeFull,
		ArtifactPath:     artifact,
		CreatedAt:        time.Now().UTC(),
		SizeBytes:        size,
		Checksum:         checksum,
		Source:           e.captureEnvironment(ctx, distro),
	}

	id, err := e.store.Append(rec)
	if err != nil {
		removeArtifact(artifact)
		return nil, fmt.Errorf("recording backup: %w", err)
	}
	rec.ID = id
	logging.Success("full backup of %s complete: %s (%d bytes)", distro, id, size)
	return &rec, nil
}

// CreateIncremental produces a delta backup containing files changed inside
// the distribution since the parent backup was taken. Enumeration is capped
// at the configured max_changed_files newest paths; the cap keeps a runaway
// change set from producing unbounded output.
func (e *Engine) CreateIncremental(ctx context.Context, distro string, parent *store.BackupRecord) (*IncrementalResult, error) {
	since := parent.CreatedAt

	changed, err := e.findChangedFiles(ctx, distro, since)
	if err != nil {
		logging.Warn("change detection failed for %s (%v), falling back to full backup", distro, err)
		return e.fallbackToFull(ctx, distro)
	}
	if len(changed) == 0 {
		logging.Info("no files changed in %s since %s, no backup needed", distro, since.Format(time.RFC3339))
		return &IncrementalResult{Skipped: true}, nil
	}

	artifact := e.artifactPath(distro, "incr", ".tar.gz")
	if err := e.archiveChangedFiles(ctx, distro, changed, artifact); err != nil {
		removeArtifact(artifact)
		logging.Warn("incremental archive failed for %s (%v), falling back to full backup", distro, err)
		return e.fallbackToFull(ctx, distro)
	}

	checksum, err := integrity.Digest(artifact)
	if err != nil {
		removeArtifact(artifact)
		return nil, err
	}
	info, err := os.Stat(artifact)
	if err != nil {
		removeArtifact(artifact)
		return nil, fmt.Errorf("inspecting artifact: %w", err)
	}

	rec := store.BackupRecord{
		ID:               uuid.New().String(),
		DistributionName: distro,
		BackupType:       store.TypeIncremental,
		ArtifactPath:     artifact,
		CreatedAt:        time.Now().UTC(),
		SizeBytes:        info.Size(),
		Checksum:         checksum,
		ParentBackupID:   parent.ID,
		ChangedFileCount: len(changed),
		ChangedFiles:     changed,
		Source:           e.captureEnvironment(ctx, distro),
	}

	id, err := e.store.Append(rec)
	if err != nil {
		removeArtifact(artifact)
		return nil, fmt.Errorf("recording backup: %w", err)
	}
	rec.ID = id
	logging.Success("incremental backup of %s complete: %s (%d changed files)", distro, id, len(changed))
	return &IncrementalResult{Record: &rec}, nil
}

func (e *Engine) fallbackToFull(ctx context.Context, distro string) (*IncrementalResult, error) {
	rec, err := e.CreateFull(ctx, distro)
	if err != nil {
		return nil, err
	}
	return &IncrementalResult{Record: rec, FellBack: true}, nil
}

// ExportArtifact runs the export primitive once, writing the snapshot to
// destPath, and returns its checksum and size. The artifact is unregistered;
// CreateFull layers record creation on top and the migration packager uses
// this directly. Any failure removes the partial file.
func (e *Engine) ExportArtifact(ctx context.Context, distro, destPath string) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", 0, fmt.Errorf("creating backup directory: %w", err)
	}

	logging.Info("exporting %s to %s", distro, destPath)
	if err := e.client.Export(ctx, distro, destPath); err != nil {
		removeArtifact(destPath)
		return "", 0, err
	}

	info, err := os.Stat(destPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", 0, &errdefs.ExternalToolError{
			Tool: "export",
			Args: []string{distro},
			Err:  errors.New("export reported success but produced no artifact"),
		}
	}
	if err != nil {
		removeArtifact(destPath)
		return "", 0, fmt.Errorf("inspecting artifact: %w", err)
	}
	if info.Size() == 0 {
		removeArtifact(destPath)
		return "", 0, &errdefs.ValidationError{Subject: destPath, Reason: "exported artifact is empty"}
	}

	checksum, err := integrity.Digest(destPath)
	if err != nil {
		removeArtifact(destPath)
		return "", 0, err
	}
	return checksum, info.Size(), nil
}

// findChangedFiles enumerates regular files modified after since, bounded to
// the configured cap.
func (e *Engine) findChangedFiles(ctx context.Context, distro string, since time.Time) ([]string, error) {
	roots := strings.Join(e.cfg.Backup.IncrementalRoots, " ")
	script := fmt.Sprintf(
		"find %s -xdev -type f -newermt '%s' 2>/dev/null | head -n %d",
		roots, since.UTC().Format("2006-01-02 15:04:05"), e.cfg.Backup.MaxChangedFiles,
	)

	out, err := e.client.Exec(ctx, distro, "sh", "-c", script)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\x00", ""))
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// archiveChangedFiles produces a tar.gz of exactly the changed paths. The
// file list is staged inside the distribution so arbitrarily long change
// sets never hit command-line length limits.
func (e *Engine) archiveChangedFiles(ctx context.Context, distro string, files []string, destPath string) error {
	list := strings.NewReader(strings.Join(files, "\n") + "\n")
	if err := e.client.ExecWithInput(ctx, distro, list, "sh", "-c", "cat > "+changedFileList); err != nil {
		return fmt.Errorf("staging change list: %w", err)
	}
	defer func() {
		if _, err := e.client.Exec(ctx, distro, "rm", "-f", changedFileList); err != nil {
			logging.Debug("could not remove change list in %s: %v", distro, err)
		}
	}()

	script := fmt.Sprintf("tar -czf - --ignore-failed-read -T %s", changedFileList)
	if err := e.client.ExecToFile(ctx, distro, destPath, "sh", "-c", script); err != nil {
		return err
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return fmt.Errorf("inspecting archive: %w", err)
	}
	if info.Size() == 0 {
		return &errdefs.ValidationError{Subject: destPath, Reason: "incremental archive is empty"}
	}
	return nil
}

// captureEnvironment records distribution state at backup time, best-effort:
// a distribution that cannot report its version or disk usage still gets
// backed up.
func (e *Engine) captureEnvironment(ctx context.Context, distro string) store.EnvironmentSnapshot {
	var snap store.EnvironmentSnapshot

	distros, err := e.client.List(ctx)
	if err != nil {
		logging.Debug("could not list distributions: %v", err)
	} else {
		for _, d := range distros {
			if d.Name == distro {
				snap.Status = d.Status
				break
			}
		}
	}

	out, err := e.client.Exec(ctx, distro, "sh", "-c", ". /etc/os-release && echo \"$PRETTY_NAME\"")
	if err == nil {
		snap.Version = strings.TrimSpace(strings.ReplaceAll(string(out), "\x00", ""))
	} else {
		logging.Debug("could not read os-release in %s: %v", distro, err)
	}

	out, err = e.client.Exec(ctx, distro, "sh", "-c", "df -k --output=used / | tail -1")
	if err == nil {
		if kb, perr := strconv.ParseInt(strings.TrimSpace(strings.ReplaceAll(string(out), "\x00", "")), 10, 64); perr == nil {
			snap.UsedSpaceBytes = kb * 1024
		}
	} else {
		logging.Debug("could not read disk usage in %s: %v", distro, err)
	}

	return snap
}

func (e *Engine) artifactPath(distro, kind, ext string) string {
	stamp := time.Now().Format("20060102-150405")
	return filepath.Join(e.cfg.BackupDir(), fmt.Sprintf("%s-%s-%s%s", distro, stamp, kind, ext))
}

func removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("could not remove partial artifact %s: %v", path, err)
	}
}
