package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes([]byte("store:\n  data_dir: /tmp/wb-test\n"))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	if cfg.Store.MetadataFile != "/tmp/wb-test/backups.json" {
		t.Errorf("metadata file = %q", cfg.Store.MetadataFile)
	}
	if cfg.Backup.MaxChangedFiles != 10000 {
		t.Errorf("max changed files = %d, want 10000", cfg.Backup.MaxChangedFiles)
	}
	if cfg.Restore.ImportTimeout() != 30*time.Minute {
		t.Errorf("import timeout = %s, want 30m", cfg.Restore.ImportTimeout())
	}
	if cfg.Restore.PollInterval() != 5*time.Second {
		t.Errorf("poll interval = %s, want 5s", cfg.Restore.PollInterval())
	}
	if cfg.Deploy.MaxConcurrency != 4 {
		t.Errorf("max concurrency = %d, want 4", cfg.Deploy.MaxConcurrency)
	}
	if cfg.WSL.Binary != "wsl.exe" {
		t.Errorf("wsl binary = %q", cfg.WSL.Binary)
	}
}

func TestLoadBytes_Overrides(t *testing.T) {
	yaml := `
store:
  data_dir: /var/lib/wb
backup:
  max_changed_files: 500
restore:
  import_timeout_secs: 60
  poll_interval_secs: 2
deploy:
  max_concurrency: 8
`
	cfg, err := LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.Backup.MaxChangedFiles != 500 {
		t.Errorf("max changed files = %d", cfg.Backup.MaxChangedFiles)
	}
	if cfg.Restore.ImportTimeout() != time.Minute {
		t.Errorf("import timeout = %s", cfg.Restore.ImportTimeout())
	}
	if cfg.Deploy.MaxConcurrency != 8 {
		t.Errorf("max concurrency = %d", cfg.Deploy.MaxConcurrency)
	}
	if cfg.BackupDir() != "/var/lib/wb/backups" {
		t.Errorf("backup dir = %q", cfg.BackupDir())
	}
}

func TestLoadBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"poll exceeds timeout",
			"restore:\n  import_timeout_secs: 10\n  poll_interval_secs: 60\n",
			"poll_interval_secs",
		},
		{
			"slack enabled without webhook",
			"slack:\n  enabled: true\n",
			"webhook_url",
		},
		{
			"concurrency too high",
			"deploy:\n  max_concurrency: 1000\n",
			"max_concurrency",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestExpandTilde(t *testing.T) {
	if got := expandTilde(""); got != "" {
		t.Errorf("expandTilde(\"\") = %q", got)
	}
	if got := expandTilde("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := expandTilde("~/x"); strings.HasPrefix(got, "~") {
		t.Errorf("tilde not expanded: %q", got)
	}
}
