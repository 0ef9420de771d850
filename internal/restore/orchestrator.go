// Package restore drives import of backup artifacts into target
// distributions: single full restores, and chain restores that replay an
// incremental lineage on top of its originating full backup.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johndauphine/wsl-backup/internal/archive"
	"github.com/johndauphine/wsl-backup/internal/chain"
	"github.com/johndauphine/wsl-backup/internal/config"
	"github.com/johndauphine/wsl-backup/internal/errdefs"
	"github.com/johndauphine/wsl-backup/internal/integrity"
	"github.com/johndauphine/wsl-backup/internal/logging"
	"github.com/johndauphine/wsl-backup/internal/store"
	"github.com/johndauphine/wsl-backup/internal/wsl"
)

// minPlausibleSize rejects artifacts too small to be a real export
const minPlausibleSize = 1024

// Options control a restore operation
type Options struct {
	// Force tears down an existing target of the same name before import
	Force bool
	// VerifyIntegrity validates artifact checksums before any target mutation
	VerifyIntegrity bool
	// Checksum is the expected artifact digest; when empty and
	// VerifyIntegrity is set, the metadata store is consulted
	Checksum string
	// Timeout overrides the configured import timeout
	Timeout time.Duration
	// OnProgress is invoked at every poll interval while the import runs
	OnProgress func(elapsed time.Duration)
}

// Result reports the outcome of a restore operation
type Result struct {
	Success      bool     `json:"success"`
	Target       string   `json:"target"`
	ArtifactPath string   `json:"artifact_path,omitempty"`
	BackupID     string   `json:"backup_id,omitempty"`
	StepsApplied int      `json:"steps_applied,omitempty"`
	LastApplied  string   `json:"last_applied_backup_id,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Duration     string   `json:"duration,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Orchestrator coordinates restore and import operations
type Orchestrator struct {
	client   wsl.Client
	store    *store.Store
	resolver *chain.Resolver
	cfg      *config.Config
}

// New creates a restore orchestrator
func New(client wsl.Client, st *store.Store, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		client:   client,
		store:    st,
		resolver: chain.NewResolver(st),
		cfg:      cfg,
	}
}

// RestoreFull imports a full snapshot artifact as a new distribution named
// target. The import is a cancellable, time-bounded unit of work; on timeout
// it is forcibly terminated, the partial target is unregistered, and a
// TimeoutError propagates. The post-import smoke check is a warning, never a
// failure.
func (o *Orchestrator) RestoreFull(ctx context.Context, artifactPath, target string, opts Options) (*Result, error) {
	start := time.Now()
	result := &Result{Target: target, ArtifactPath: artifactPath}

	if err := o.validateArtifact(artifactPath); err != nil {
		return fail(result, start, err)
	}
	if err := o.verifyChecksum(artifactPath, opts); err != nil {
		return fail(result, start, err)
	}
	if err := o.prepareTarget(ctx, target, opts.Force); err != nil {
		return fail(result, start, err)
	}

	if err := o.runImport(ctx, artifactPath, target, opts); err != nil {
		return fail(result, start, err)
	}

	if warn := o.smokeCheck(ctx, target); warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}

	result.Success = true
	result.Duration = time.Since(start).Round(time.Millisecond).String()
	logging.Success("restored %s as %s in %s", filepath.Base(artifactPath), target, result.Duration)
	return result, nil
}

// RestoreChain resolves the backup chain ending at backupID, restores the
// root full backup, then overlays each incremental in order. A failure
// partway leaves the target at the last successfully applied step; there is
// no rollback to the pre-restore state.
func (o *Orchestrator) RestoreChain(ctx context.Context, backupID, target string, opts Options) (*Result, error) {
	start := time.Now()
	result := &Result{Target: target, BackupID: backupID}

	records, err := o.resolver.Resolve(backupID)
	if err != nil {
		return fail(result, start, err)
	}
	logging.Info("restoring chain of %d backup(s) onto %s", len(records), target)

	// Verify every artifact up front so corruption anywhere in the chain is
	// caught before the target is touched.
	if opts.VerifyIntegrity {
		for _, rec := range records {
			if err := integrity.Verify(rec.ArtifactPath, rec.Checksum); err != nil {
				return fail(result, start, err)
			}
		}
	}

	root := records[0]
	fullOpts := opts
	fullOpts.Checksum = root.Checksum
	fullResult, err := o.RestoreFull(ctx, root.ArtifactPath, target, fullOpts)
	if err != nil {
		return fail(result, start, err)
	}
	result.Warnings = append(result.Warnings, fullResult.Warnings...)
	result.StepsApplied = 1
	result.LastApplied = root.ID

	for _, rec := range records[1:] {
		if err := o.applyOverlay(ctx, &rec, target); err != nil {
			result.Duration = time.Since(start).Round(time.Millisecond).String()
			result.Error = err.Error()
			return result, fmt.Errorf("chain stopped after %s (%d of %d steps applied): %w",
				result.LastApplied, result.StepsApplied, len(records), err)
		}
		result.StepsApplied++
		result.LastApplied = rec.ID
		logging.Info("applied incremental %s (%d files)", rec.ID, rec.ChangedFileCount)
	}

	result.Success = true
	result.Duration = time.Since(start).Round(time.Millisecond).String()
	logging.Success("chain restore of %s onto %s complete (%d steps)", backupID, target, result.StepsApplied)
	return result, nil
}

// validateArtifact checks format and plausibility before anything else runs
func (o *Orchestrator) validateArtifact(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return &errdefs.ValidationError{Subject: path, Reason: "artifact does not exist"}
	}
	if err != nil {
		return fmt.Errorf("inspecting artifact: %w", err)
	}
	if info.Size() < minPlausibleSize {
		return &errdefs.ValidationError{
			Subject: path,
			Reason:  fmt.Sprintf("artifact is %d bytes, too small to be a snapshot", info.Size()),
		}
	}

	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".tar"), strings.HasSuffix(name, ".vhdx"):
		return nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		ok, err := archive.IsGzip(path)
		if err != nil {
			return fmt.Errorf("inspecting artifact: %w", err)
		}
		if !ok {
			return &errdefs.ValidationError{Subject: path, Reason: "extension says gzip but signature does not match"}
		}
		return nil
	default:
		return &errdefs.ValidationError{Subject: path, Reason: "unrecognized artifact format (want .tar, .tar.gz, .tgz or .vhdx)"}
	}
}

func (o *Orchestrator) verifyChecksum(path string, opts Options) error {
	checksum := opts.Checksum
	if checksum == "" && opts.VerifyIntegrity {
		// Fall back to the recorded checksum for known artifacts
		records, err := o.store.All()
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.ArtifactPath == path {
				checksum = rec.Checksum
				break
			}
		}
		if checksum == "" {
			return &errdefs.ValidationError{Subject: path, Reason: "integrity verification requested but no checksum is known for this artifact"}
		}
	}
	if checksum == "" {
		return nil
	}
	logging.Info("verifying artifact integrity")
	return integrity.Verify(path, checksum)
}

// prepareTarget rejects a name collision unless force is set, in which case
// the existing distribution is torn down first.
func (o *Orchestrator) prepareTarget(ctx context.Context, target string, force bool) error {
	distros, err := o.client.List(ctx)
	if err != nil {
		return err
	}
	for _, d := range distros {
		if d.Name != target {
			continue
		}
		if !force {
			return &errdefs.ValidationError{
				Subject: target,
				Reason:  "distribution already exists (use force to replace it)",
			}
		}
		logging.Warn("replacing existing distribution %s", target)
		if err := o.client.Terminate(ctx, target); err != nil {
			logging.Debug("terminate %s: %v", target, err)
		}
		if err := o.client.Unregister(ctx, target); err != nil {
			return fmt.Errorf("removing existing distribution: %w", err)
		}
		return nil
	}
	return nil
}

// runImport executes the import as an independently cancellable unit bounded
// by the configured timeout, reporting progress at every poll interval.
func (o *Orchestrator) runImport(ctx context.Context, artifactPath, target string, opts Options) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.cfg.Restore.ImportTimeout()
	}
	installDir := filepath.Join(o.cfg.Restore.InstallDir, target)

	importCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- o.client.Import(importCtx, target, installDir, artifactPath)
	}()

	ticker := time.NewTicker(o.cfg.Restore.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				// Timeout surfaces here too: the killed import returns an
				// error with the deadline already exceeded.
				if importCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
					o.cleanupTarget(target)
					return &errdefs.TimeoutError{Operation: "import of " + target, Timeout: timeout}
				}
				o.cleanupTarget(target)
				return err
			}
			return nil
		case <-ticker.C:
			elapsed := time.Since(start).Round(time.Second)
			logging.Info("import of %s running (%s elapsed)", target, elapsed)
			if opts.OnProgress != nil {
				opts.OnProgress(elapsed)
			}
		}
	}
}

// cleanupTarget unregisters a partially created distribution, best-effort.
// It runs on its own context so cleanup still happens when the operation's
// context is already dead.
func (o *Orchestrator) cleanupTarget(target string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.client.Unregister(cleanupCtx, target); err != nil {
		logging.Debug("cleanup of partial target %s: %v", target, err)
	} else {
		logging.Info("unregistered partial target %s", target)
	}
}

// smokeCheck runs a trivial command inside the restored target. Failure is a
// warning: the filesystem restored, the init path may just need attention.
func (o *Orchestrator) smokeCheck(ctx context.Context, target string) string {
	out, err := o.client.Exec(ctx, target, "echo", "ok")
	if err != nil {
		warn := fmt.Sprintf("post-restore check failed for %s: %v", target, err)
		logging.Warn("%s", warn)
		return warn
	}
	if !strings.Contains(string(out), "ok") {
		warn := fmt.Sprintf("post-restore check in %s produced unexpected output", target)
		logging.Warn("%s", warn)
		return warn
	}
	return ""
}

// applyOverlay extracts an incremental artifact to a scratch directory, then
// streams its contents onto the target's root filesystem.
func (o *Orchestrator) applyOverlay(ctx context.Context, rec *store.BackupRecord, target string) error {
	scratch, err := os.MkdirTemp("", "wsl-backup-overlay-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := archive.ExtractAll(rec.ArtifactPath, scratch); err != nil {
		return fmt.Errorf("extracting incremental %s: %w", rec.ID, err)
	}

	overlay := filepath.Join(scratch + ".tar.gz")
	if err := archive.CreateFromDir(overlay, scratch); err != nil {
		return fmt.Errorf("staging overlay for %s: %w", rec.ID, err)
	}
	defer os.Remove(overlay)

	f, err := os.Open(overlay)
	if err != nil {
		return fmt.Errorf("opening overlay: %w", err)
	}
	defer f.Close()

	if err := o.client.ExecWithInput(ctx, target, f, "sh", "-c", "tar -xpzf - -C /"); err != nil {
		return fmt.Errorf("overlaying incremental %s onto %s: %w", rec.ID, target, err)
	}
	return nil
}

func fail(result *Result, start time.Time, err error) (*Result, error) {
	result.Success = false
	result.Error = err.Error()
	result.Duration = time.Since(start).Round(time.Millisecond).String()
	return result, err
}
