// Package pack bundles a full snapshot with captured configuration metadata
// into a single portable unit, and deploys such bundles onto new hosts.
package pack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johndauphine/wsl-backup/internal/archive"
	"github.com/johndauphine/wsl-backup/internal/config"
	"github.com/johndauphine/wsl-backup/internal/errdefs"
	"github.com/johndauphine/wsl-backup/internal/integrity"
	"github.com/johndauphine/wsl-backup/internal/logging"
	"github.com/johndauphine/wsl-backup/internal/restore"
	"github.com/johndauphine/wsl-backup/internal/snapshot"
	"github.com/johndauphine/wsl-backup/internal/wsl"
)

const (
	manifestName = "manifest.json"
	snapshotName = "snapshot.tar"
)

// Manifest is the captured-configuration document embedded in every package
type Manifest struct {
	SchemaVersion    int               `json:"schema_version"`
	SourceMachine    string            `json:"source_machine"`
	Distribution     string            `json:"distribution"`
	CapturedAt       time.Time         `json:"captured_at"`
	RuntimeVersion   string            `json:"runtime_version,omitempty"`
	SnapshotFile     string            `json:"snapshot_file"`
	SnapshotChecksum string            `json:"snapshot_checksum"`
	Packages         []string          `json:"packages,omitempty"`
	Users            []string          `json:"users,omitempty"`
	ConfigFiles      map[string]string `json:"config_files,omitempty"`
}

// capturedConfigPaths are the in-distribution files recorded verbatim when
// configuration capture is requested.
var capturedConfigPaths = []string{"/etc/wsl.conf", "/etc/fstab", "/etc/environment"}

// PackOptions select what gets captured alongside the snapshot
type PackOptions struct {
	IncludePackages bool
	IncludeUsers    bool
	IncludeConfig   bool
}

// PackageInfo describes a produced migration package
type PackageInfo struct {
	Path      string   `json:"path"`
	Checksum  string   `json:"checksum"`
	SizeBytes int64    `json:"size_bytes"`
	Manifest  Manifest `json:"manifest"`
}

// DeployOptions control package deployment onto a target
type DeployOptions struct {
	Force           bool
	VerifyIntegrity bool
	Timeout         time.Duration
	// ApplyConfig reapplies the captured configuration after restore,
	// best-effort
	ApplyConfig bool
}

// DeployResult reports the outcome of deploying a package to one target
type DeployResult struct {
	Success     bool     `json:"success"`
	Target      string   `json:"target"`
	PackagePath string   `json:"package_path"`
	Warnings    []string `json:"warnings,omitempty"`
	Duration    string   `json:"duration,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Packager produces and deploys migration packages
type Packager struct {
	client   wsl.Client
	engine   *snapshot.Engine
	restorer *restore.Orchestrator
	cfg      *config.Config
}

// New creates a packager
func New(client wsl.Client, engine *snapshot.Engine, restorer *restore.Orchestrator, cfg *config.Config) *Packager {
	return &Packager{client: client, engine: engine, restorer: restorer, cfg: cfg}
}

// Pack exports a full snapshot of the distribution together with a captured
// configuration manifest, bundled as one compressed archive. The bundle is
// self-contained and is not registered in the metadata store.
func (p *Packager) Pack(ctx context.Context, distro string, opts PackOptions) (*PackageInfo, error) {
	staging, err := os.MkdirTemp("", "wsl-backup-pack-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	snapshotPath := filepath.Join(staging, snapshotName)
	checksum, _, err := p.engine.ExportArtifact(ctx, distro, snapshotPath)
	if err != nil {
		return nil, err
	}

	manifest := p.captureManifest(ctx, distro, checksum, opts)
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, manifestName), manifestData, 0644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	if err := os.MkdirAll(p.cfg.PackageDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating package directory: %w", err)
	}
	bundlePath := filepath.Join(p.cfg.PackageDir(),
		fmt.Sprintf("%s-%s.wslpkg.tar.gz", distro, time.Now().Format("20060102-150405")))

	if err := archive.CreateFromDir(bundlePath, staging); err != nil {
		removePartial(bundlePath)
		return nil, err
	}

	bundleSum, err := integrity.Digest(bundlePath)
	if err != nil {
		removePartial(bundlePath)
		return nil, err
	}
	if err := os.WriteFile(bundlePath+".sha256", []byte(bundleSum+"\n"), 0644); err != nil {
		removePartial(bundlePath)
		return nil, fmt.Errorf("writing checksum sidecar: %w", err)
	}

	info, err := os.Stat(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("inspecting package: %w", err)
	}

	logging.Success("packaged %s: %s (%d bytes)", distro, bundlePath, info.Size())
	return &PackageInfo{
		Path:      bundlePath,
		Checksum:  bundleSum,
		SizeBytes: info.Size(),
		Manifest:  manifest,
	}, nil
}

// Deploy extracts a package, restores its embedded snapshot as target, and
// optionally reapplies the captured configuration. Configuration sub-step
// failures are warnings and never fail the deployment.
func (p *Packager) Deploy(ctx context.Context, pkgPath, target string, opts DeployOptions) (*DeployResult, error) {
	start := time.Now()
	result := &DeployResult{Target: target, PackagePath: pkgPath}

	if opts.VerifyIntegrity {
		if err := p.verifyBundle(pkgPath); err != nil {
			return deployFail(result, start, err)
		}
	}

	if ok, err := archive.IsGzip(pkgPath); err != nil || !ok {
		if err == nil {
			err = &errdefs.ValidationError{Subject: pkgPath, Reason: "not a compressed package bundle"}
		}
		return deployFail(result, start, err)
	}

	scratch, err := os.MkdirTemp("", "wsl-backup-deploy-*")
	if err != nil {
		return deployFail(result, start, fmt.Errorf("creating scratch directory: %w", err))
	}
	defer os.RemoveAll(scratch)

	if err := archive.ExtractAll(pkgPath, scratch); err != nil {
		return deployFail(result, start, err)
	}

	manifest, err := readManifest(scratch)
	if err != nil {
		return deployFail(result, start, err)
	}

	snapshotPath := filepath.Join(scratch, manifest.SnapshotFile)
	if _, err := os.Stat(snapshotPath); err != nil {
		return deployFail(result, start, &errdefs.ValidationError{
			Subject: pkgPath,
			Reason:  "embedded snapshot " + manifest.SnapshotFile + " missing from bundle",
		})
	}

	restoreRes, err := p.restorer.RestoreFull(ctx, snapshotPath, target, restore.Options{
		Force:    opts.Force,
		Checksum: manifest.SnapshotChecksum,
		Timeout:  opts.Timeout,
	})
	if restoreRes != nil {
		result.Warnings = append(result.Warnings, restoreRes.Warnings...)
	}
	if err != nil {
		return deployFail(result, start, err)
	}

	if opts.ApplyConfig {
		result.Warnings = append(result.Warnings, p.reapplyConfiguration(ctx, manifest, target)...)
	}

	result.Success = true
	result.Duration = time.Since(start).Round(time.Millisecond).String()
	logging.Success("deployed %s to %s in %s", filepath.Base(pkgPath), target, result.Duration)
	return result, nil
}

func (p *Packager) verifyBundle(pkgPath string) error {
	data, err := os.ReadFile(pkgPath + ".sha256")
	if errors.Is(err, os.ErrNotExist) {
		return &errdefs.ValidationError{Subject: pkgPath, Reason: "integrity verification requested but no checksum sidecar exists"}
	}
	if err != nil {
		return fmt.Errorf("reading checksum sidecar: %w", err)
	}
	return integrity.Verify(pkgPath, strings.TrimSpace(string(data)))
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &errdefs.ValidationError{Subject: dir, Reason: "bundle carries no manifest"}
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &errdefs.ValidationError{Subject: manifestName, Reason: "malformed manifest: " + err.Error()}
	}
	if m.SnapshotFile == "" {
		m.SnapshotFile = snapshotName
	}
	return &m, nil
}

// captureManifest records source machine state, best-effort: a capture
// sub-step that fails leaves its field empty rather than failing the pack.
func (p *Packager) captureManifest(ctx context.Context, distro, snapshotChecksum string, opts PackOptions) Manifest {
	manifest := Manifest{
		SchemaVersion:    1,
		Distribution:     distro,
		CapturedAt:       time.Now().UTC(),
		SnapshotFile:     snapshotName,
		SnapshotChecksum: snapshotChecksum,
	}

	if host, err := os.Hostname(); err == nil {
		manifest.SourceMachine = host
	}

	if out, err := p.client.Exec(ctx, distro, "sh", "-c", ". /etc/os-release && echo \"$PRETTY_NAME\""); err == nil {
		manifest.RuntimeVersion = cleanLine(string(out))
	} else {
		logging.Debug("could not capture runtime version: %v", err)
		manifest.RuntimeVersion = p.cfg.WSL.DefaultVersion
	}

	if opts.IncludePackages {
		manifest.Packages = p.capturePackages(ctx, distro)
	}
	if opts.IncludeUsers {
		manifest.Users = p.captureUsers(ctx, distro)
	}
	if opts.IncludeConfig {
		manifest.ConfigFiles = p.captureConfigFiles(ctx, distro)
	}
	return manifest
}

func (p *Packager) capturePackages(ctx context.Context, distro string) []string {
	// dpkg first, then apk; rpm-based distributions are rare under WSL
	for _, script := range []string{
		"dpkg-query -W -f '${Package}\\n' 2>/dev/null",
		"apk info 2>/dev/null",
	} {
		out, err := p.client.Exec(ctx, distro, "sh", "-c", script)
		if err != nil || len(out) == 0 {
			continue
		}
		if pkgs := cleanLines(string(out)); len(pkgs) > 0 {
			return pkgs
		}
	}
	logging.Warn("could not capture package inventory for %s", distro)
	return nil
}

func (p *Packager) captureUsers(ctx context.Context, distro string) []string {
	out, err := p.client.Exec(ctx, distro, "sh", "-c",
		"awk -F: '$3 >= 1000 && $1 != \"nobody\" {print $1}' /etc/passwd")
	if err != nil {
		logging.Warn("could not capture user inventory for %s: %v", distro, err)
		return nil
	}
	return cleanLines(string(out))
}

func (p *Packager) captureConfigFiles(ctx context.Context, distro string) map[string]string {
	files := make(map[string]string)
	for _, path := range capturedConfigPaths {
		out, err := p.client.Exec(ctx, distro, "sh", "-c", "cat "+path+" 2>/dev/null")
		if err != nil || len(out) == 0 {
			continue
		}
		files[path] = strings.ReplaceAll(string(out), "\x00", "")
	}
	if len(files) == 0 {
		return nil
	}
	return files
}

// reapplyConfiguration pushes captured configuration into the restored
// target. Every sub-step is independent; failures come back as warnings.
// Package inventory is informational only: installing packages is the
// distribution's package manager's job, not this tool's.
func (p *Packager) reapplyConfiguration(ctx context.Context, manifest *Manifest, target string) []string {
	var warnings []string

	for path, content := range manifest.ConfigFiles {
		err := p.client.ExecWithInput(ctx, target, strings.NewReader(content),
			"sh", "-c", "cat > "+path)
		if err != nil {
			warn := (&errdefs.ConfigWarning{Step: "restore " + path, Err: err}).Error()
			logging.Warn("%s", warn)
			warnings = append(warnings, warn)
			continue
		}
		logging.Info("reapplied %s on %s", path, target)
	}

	for _, user := range manifest.Users {
		_, err := p.client.Exec(ctx, target, "sh", "-c",
			fmt.Sprintf("id %s >/dev/null 2>&1 || useradd -m %s", user, user))
		if err != nil {
			warn := (&errdefs.ConfigWarning{Step: "recreate user " + user, Err: err}).Error()
			logging.Warn("%s", warn)
			warnings = append(warnings, warn)
		}
	}

	if len(manifest.Packages) > 0 {
		logging.Info("package inventory captured from source (%d packages); reinstall with the distribution's package manager if needed", len(manifest.Packages))
	}
	return warnings
}

func cleanLine(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

func cleanLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\x00", ""), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("could not remove partial package %s: %v", path, err)
	}
}

func deployFail(result *DeployResult, start time.Time, err error) (*DeployResult, error) {
	result.Success = false
	result.Error = err.Error()
	result.Duration = time.Since(start).Round(time.Millisecond).String()
	return result, err
}
