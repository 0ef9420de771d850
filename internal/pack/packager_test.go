package pack

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johndauphine/wsl-backup/internal/config"
	"github.com/johndauphine/wsl-backup/internal/errdefs"
	"github.com/johndauphine/wsl-backup/internal/integrity"
	"github.com/johndauphine/wsl-backup/internal/restore"
	"github.com/johndauphine/wsl-backup/internal/snapshot"
	"github.com/johndauphine/wsl-backup/internal/store"
	"github.com/johndauphine/wsl-backup/internal/wsl/wsltest"
)

func newTestPackager(t *testing.T, client *wsltest.Fake) *Packager {
	t.Helper()
	cfg := config.Default()
	cfg.Store.DataDir = t.TempDir()
	cfg.Store.MetadataFile = filepath.Join(cfg.Store.DataDir, "backups.json")
	cfg.Restore.InstallDir = filepath.Join(cfg.Store.DataDir, "distros")
	st := store.New(cfg.Store.MetadataFile)
	engine := snapshot.NewEngine(client, st, cfg)
	restorer := restore.New(client, st, cfg)
	return New(client, engine, restorer, cfg)
}

func configuredClient() *wsltest.Fake {
	client := wsltest.New("demo")
	client.ExecFunc = func(ctx context.Context, name string, command ...string) ([]byte, error) {
		if len(command) == 3 && command[0] == "sh" {
			script := command[2]
			switch {
			case strings.Contains(script, "os-release"):
				return []byte("Ubuntu 24.04 LTS\n"), nil
			case strings.Contains(script, "dpkg-query"):
				return []byte("bash\ncoreutils\ncurl\n"), nil
			case strings.Contains(script, "/etc/passwd"):
				return []byte("alice\nbob\n"), nil
			case strings.Contains(script, "cat /etc/wsl.conf"):
				return []byte("[boot]\nsystemd=true\n"), nil
			case strings.Contains(script, "cat /etc/"):
				return nil, nil
			}
		}
		return []byte("ok\n"), nil
	}
	return client
}

func TestPack(t *testing.T) {
	client := configuredClient()
	p := newTestPackager(t, client)

	info, err := p.Pack(context.Background(), "demo", PackOptions{
		IncludePackages: true,
		IncludeUsers:    true,
		IncludeConfig:   true,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	if info.SizeBytes == 0 {
		t.Error("package size not recorded")
	}
	if err := integrity.Verify(info.Path, info.Checksum); err != nil {
		t.Errorf("fresh package failed verification: %v", err)
	}

	// Sidecar checksum matches
	sidecar, err := os.ReadFile(info.Path + ".sha256")
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	if strings.TrimSpace(string(sidecar)) != info.Checksum {
		t.Errorf("sidecar = %q, info = %q", sidecar, info.Checksum)
	}

	m := info.Manifest
	if m.Distribution != "demo" || m.RuntimeVersion != "Ubuntu 24.04 LTS" {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.Packages) != 3 || len(m.Users) != 2 {
		t.Errorf("inventories: packages=%v users=%v", m.Packages, m.Users)
	}
	if m.ConfigFiles["/etc/wsl.conf"] == "" {
		t.Errorf("wsl.conf not captured: %v", m.ConfigFiles)
	}
	if m.SnapshotChecksum == "" {
		t.Error("snapshot checksum not recorded")
	}
}

func TestPack_MinimalOptions(t *testing.T) {
	client := configuredClient()
	p := newTestPackager(t, client)

	info, err := p.Pack(context.Background(), "demo", PackOptions{})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	m := info.Manifest
	if len(m.Packages) != 0 || len(m.Users) != 0 || len(m.ConfigFiles) != 0 {
		t.Errorf("inventories captured without being requested: %+v", m)
	}
}

func TestDeploy(t *testing.T) {
	client := configuredClient()
	p := newTestPackager(t, client)

	info, err := p.Pack(context.Background(), "demo", PackOptions{IncludeConfig: true, IncludeUsers: true})
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Deploy(context.Background(), info.Path, "demo-clone", DeployOptions{
		VerifyIntegrity: true,
		ApplyConfig:     true,
	})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	if !client.Has("demo-clone") {
		t.Error("target not registered")
	}

	// Configuration reapplication ran
	sawConfigPush := false
	for _, c := range client.Calls() {
		if c == "exec-with-input demo-clone" {
			sawConfigPush = true
		}
	}
	if !sawConfigPush {
		t.Errorf("captured config not reapplied: %v", client.Calls())
	}
}

func TestDeploy_ConfigFailureIsWarning(t *testing.T) {
	client := configuredClient()
	client.ExecWithInputFunc = func(ctx context.Context, name string, input io.Reader, command ...string) error {
		return errors.New("read-only filesystem")
	}
	p := newTestPackager(t, client)

	info, err := p.Pack(context.Background(), "demo", PackOptions{IncludeConfig: true})
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Deploy(context.Background(), info.Path, "demo-clone", DeployOptions{ApplyConfig: true})
	if err != nil {
		t.Fatalf("config warning must not fail deployment: %v", err)
	}
	if !res.Success {
		t.Error("deployment reported failure")
	}
	if len(res.Warnings) == 0 {
		t.Error("config failure not surfaced as warning")
	}
}

func TestDeploy_TamperedBundle(t *testing.T) {
	client := configuredClient()
	p := newTestPackager(t, client)

	info, err := p.Pack(context.Background(), "demo", PackOptions{})
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(info.Path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("garbage"))
	f.Close()

	_, err = p.Deploy(context.Background(), info.Path, "x", DeployOptions{VerifyIntegrity: true})
	var intErr *errdefs.IntegrityError
	if !errors.As(err, &intErr) {
		t.Fatalf("got %v, want IntegrityError", err)
	}
}

func TestDeploy_NotABundle(t *testing.T) {
	client := configuredClient()
	p := newTestPackager(t, client)

	bogus := filepath.Join(t.TempDir(), "bogus.wslpkg.tar.gz")
	if err := os.WriteFile(bogus, []byte("plain text, not gzip"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := p.Deploy(context.Background(), bogus, "x", DeployOptions{})
	var valErr *errdefs.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}
