package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/wsl-backup/internal/config"
	"github.com/johndauphine/wsl-backup/internal/errdefs"
	"github.com/johndauphine/wsl-backup/internal/integrity"
	"github.com/johndauphine/wsl-backup/internal/store"
	"github.com/johndauphine/wsl-backup/internal/wsl/wsltest"
)

func newTestEngine(t *testing.T, client *wsltest.Fake) (*Engine, *store.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.DataDir = t.TempDir()
	cfg.Store.MetadataFile = filepath.Join(cfg.Store.DataDir, "backups.json")
	st := store.New(cfg.Store.MetadataFile)
	return NewEngine(client, st, cfg), st
}

func TestCreateFull(t *testing.T) {
	client := wsltest.New("demo")
	engine, st := newTestEngine(t, client)

	rec, err := engine.CreateFull(context.Background(), "demo")
	if err != nil {
		t.Fatalf("CreateFull: %v", err)
	}

	if rec.BackupType != store.TypeFull {
		t.Errorf("backup type = %s, want full", rec.BackupType)
	}
	if rec.ParentBackupID != "" {
		t.Errorf("full backup has parent %q", rec.ParentBackupID)
	}
	if rec.SizeBytes == 0 {
		t.Error("size not recorded")
	}

	// Checksum must verify immediately after creation
	if err := integrity.Verify(rec.ArtifactPath, rec.Checksum); err != nil {
		t.Errorf("fresh artifact failed verification: %v", err)
	}

	all, err := st.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != rec.ID {
		t.Errorf("store contents = %+v", all)
	}
}

func TestCreateFull_ExportFails(t *testing.T) {
	client := wsltest.New("demo")
	client.ExportFunc = func(ctx context.Context, name, destPath string) error {
		// Simulate a partial write before the failure
		os.WriteFile(destPath, []byte("partial"), 0644)
		return &errdefs.ExternalToolError{Tool: "wsl.exe", Args: []string{"--export"}, Err: errors.New("exit status 1")}
	}
	engine, st := newTestEngine(t, client)

	_, err := engine.CreateFull(context.Background(), "demo")
	var toolErr *errdefs.ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("got %v, want ExternalToolError", err)
	}

	all, _ := st.All()
	if len(all) != 0 {
		t.Errorf("failed backup was recorded: %+v", all)
	}
}

func TestCreateFull_NoPartialArtifactLeft(t *testing.T) {
	client := wsltest.New("demo")
	var artifactPath string
	client.ExportFunc = func(ctx context.Context, name, destPath string) error {
		artifactPath = destPath
		os.WriteFile(destPath, []byte("partial"), 0644)
		return errors.New("boom")
	}
	engine, _ := newTestEngine(t, client)

	if _, err := engine.CreateFull(context.Background(), "demo"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(artifactPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial artifact %s was not cleaned up", artifactPath)
	}
}

func TestCreateIncremental(t *testing.T) {
	client := wsltest.New("demo")
	client.ExecFunc = func(ctx context.Context, name string, command ...string) ([]byte, error) {
		if len(command) == 3 && command[0] == "sh" {
			switch {
			case strings.Contains(command[2], "find "):
				return []byte("/etc/wsl.conf\n"), nil
			case strings.Contains(command[2], "os-release"):
				return []byte("Ubuntu 24.04 LTS\n"), nil
			case strings.Contains(command[2], "df -k"):
				return []byte("1024\n"), nil
			}
		}
		return nil, nil
	}
	engine, _ := newTestEngine(t, client)

	parent := &store.BackupRecord{ID: "parent", CreatedAt: time.Now().Add(-time.Hour)}
	res, err := engine.CreateIncremental(context.Background(), "demo", parent)
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}

	if res.Skipped || res.FellBack {
		t.Fatalf("unexpected result flags: %+v", res)
	}
	rec := res.Record
	if rec.BackupType != store.TypeIncremental {
		t.Errorf("backup type = %s", rec.BackupType)
	}
	if rec.ParentBackupID != "parent" {
		t.Errorf("parent = %q", rec.ParentBackupID)
	}
	if rec.ChangedFileCount != 1 || len(rec.ChangedFiles) != 1 {
		t.Errorf("changed files = %d %v", rec.ChangedFileCount, rec.ChangedFiles)
	}
	if rec.Source.Version != "Ubuntu 24.04 LTS" {
		t.Errorf("captured version = %q", rec.Source.Version)
	}
	if rec.Source.UsedSpaceBytes != 1024*1024 {
		t.Errorf("captured used space = %d", rec.Source.UsedSpaceBytes)
	}
}

func TestCreateIncremental_NoChanges(t *testing.T) {
	client := wsltest.New("demo")
	client.ExecFunc = func(ctx context.Context, name string, command ...string) ([]byte, error) {
		return []byte("\n"), nil
	}
	engine, st := newTestEngine(t, client)

	res, err := engine.CreateIncremental(context.Background(), "demo", &store.BackupRecord{ID: "p", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}
	if !res.Skipped {
		t.Error("expected skipped result for empty change set")
	}
	if res.Record != nil {
		t.Errorf("record appended for empty change set: %+v", res.Record)
	}
	all, _ := st.All()
	if len(all) != 0 {
		t.Errorf("store not empty: %+v", all)
	}
}

func TestCreateIncremental_FallsBackToFull(t *testing.T) {
	client := wsltest.New("demo")
	client.ExecFunc = func(ctx context.Context, name string, command ...string) ([]byte, error) {
		if len(command) == 3 && strings.Contains(command[2], "find ") {
			return nil, errors.New("find blew up")
		}
		return nil, nil
	}
	engine, _ := newTestEngine(t, client)

	res, err := engine.CreateIncremental(context.Background(), "demo", &store.BackupRecord{ID: "p", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("CreateIncremental: %v", err)
	}
	if !res.FellBack {
		t.Error("fallback not reported")
	}
	if res.Record.BackupType != store.TypeFull {
		t.Errorf("record type = %s, want full (what was actually produced)", res.Record.BackupType)
	}
	if res.Record.ParentBackupID != "" {
		t.Errorf("fallback full backup has parent %q", res.Record.ParentBackupID)
	}
}

