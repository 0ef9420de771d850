package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndExtract(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "etc", "hosts"), "127.0.0.1 localhost\n")
	writeFile(t, filepath.Join(src, "etc", "wsl.conf"), "[boot]\nsystemd=true\n")
	writeFile(t, filepath.Join(src, "readme.txt"), "hello")

	arc := filepath.Join(t.TempDir(), "bundle.tar.gz")
	if err := CreateFromDir(arc, src); err != nil {
		t.Fatalf("CreateFromDir: %v", err)
	}

	ok, err := IsGzip(arc)
	if err != nil || !ok {
		t.Fatalf("IsGzip = %v, %v; want true", ok, err)
	}

	dest := t.TempDir()
	if err := ExtractAll(arc, dest); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "etc", "hosts"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(got) != "127.0.0.1 localhost\n" {
		t.Errorf("extracted content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "readme.txt")); err != nil {
		t.Errorf("top-level file missing: %v", err)
	}
}

func TestIsGzip_PlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	writeFile(t, path, "not an archive")

	ok, err := IsGzip(path)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("plain text detected as gzip")
	}
}

func TestIsGzip_TinyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny")
	writeFile(t, path, "x")

	ok, err := IsGzip(path)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("one-byte file detected as gzip")
	}
}

func TestSecurePath_RejectsTraversal(t *testing.T) {
	if _, err := securePath("/tmp/dest", "../../etc/passwd"); err == nil {
		t.Error("traversal entry accepted")
	}
	if _, err := securePath("/tmp/dest", "ok/file.txt"); err != nil {
		t.Errorf("valid entry rejected: %v", err)
	}
}
