// Package wsltest provides an in-memory wsl.Client for tests.
package wsltest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/johndauphine/wsl-backup/internal/wsl"
)

// Fake implements wsl.Client. Every method can be overridden via its Func
// field; unset methods fall back to an in-memory registry of distributions.
// Fake is safe for concurrent use.
type Fake struct {
	mu    sync.Mutex
	calls []string

	// Registered tracks distributions by name
	Registered map[string]wsl.Distro

	ExportFunc        func(ctx context.Context, name, destPath string) error
	ImportFunc        func(ctx context.Context, name, installDir, artifactPath string) error
	ListFunc          func(ctx context.Context) ([]wsl.Distro, error)
	ExecFunc          func(ctx context.Context, name string, command ...string) ([]byte, error)
	ExecToFileFunc    func(ctx context.Context, name, destPath string, command ...string) error
	ExecWithInputFunc func(ctx context.Context, name string, input io.Reader, command ...string) error
	TerminateFunc     func(ctx context.Context, name string) error
	UnregisterFunc    func(ctx context.Context, name string) error
}

// New creates a fake with the given distributions pre-registered
func New(names ...string) *Fake {
	f := &Fake{Registered: make(map[string]wsl.Distro)}
	for _, name := range names {
		f.Registered[name] = wsl.Distro{Name: name, Status: "Stopped", Version: "2"}
	}
	return f
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Calls returns every recorded call in order
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Has reports whether a distribution is registered
func (f *Fake) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Registered[name]
	return ok
}

func (f *Fake) Export(ctx context.Context, name, destPath string) error {
	f.record("export " + name)
	if f.ExportFunc != nil {
		return f.ExportFunc(ctx, name, destPath)
	}
	// Pad past any plausibility threshold a consumer might apply
	content := append([]byte("tarball of "+name+"\n"), make([]byte, 4096)...)
	return os.WriteFile(destPath, content, 0644)
}

func (f *Fake) Import(ctx context.Context, name, installDir, artifactPath string) error {
	f.record("import " + name)
	if f.ImportFunc != nil {
		return f.ImportFunc(ctx, name, installDir, artifactPath)
	}
	if _, err := os.Stat(artifactPath); err != nil {
		return fmt.Errorf("artifact missing: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Registered[name] = wsl.Distro{Name: name, Status: "Stopped", Version: "2"}
	return nil
}

func (f *Fake) List(ctx context.Context) ([]wsl.Distro, error) {
	f.record("list")
	if f.ListFunc != nil {
		return f.ListFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var distros []wsl.Distro
	for _, d := range f.Registered {
		distros = append(distros, d)
	}
	return distros, nil
}

func (f *Fake) Exec(ctx context.Context, name string, command ...string) ([]byte, error) {
	f.record("exec " + name)
	if f.ExecFunc != nil {
		return f.ExecFunc(ctx, name, command...)
	}
	return nil, nil
}

func (f *Fake) ExecToFile(ctx context.Context, name, destPath string, command ...string) error {
	f.record("exec-to-file " + name)
	if f.ExecToFileFunc != nil {
		return f.ExecToFileFunc(ctx, name, destPath, command...)
	}
	return os.WriteFile(destPath, []byte("archive from "+name), 0644)
}

func (f *Fake) ExecWithInput(ctx context.Context, name string, input io.Reader, command ...string) error {
	f.record("exec-with-input " + name)
	if f.ExecWithInputFunc != nil {
		return f.ExecWithInputFunc(ctx, name, input, command...)
	}
	_, err := io.Copy(io.Discard, input)
	return err
}

func (f *Fake) Terminate(ctx context.Context, name string) error {
	f.record("terminate " + name)
	if f.TerminateFunc != nil {
		return f.TerminateFunc(ctx, name)
	}
	return nil
}

func (f *Fake) Unregister(ctx context.Context, name string) error {
	f.record("unregister " + name)
	if f.UnregisterFunc != nil {
		return f.UnregisterFunc(ctx, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Registered, name)
	return nil
}
