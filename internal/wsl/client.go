// Package wsl wraps the WSL command-line interface behind a Client so the
// engine can be tested against fakes and the binary swapped via configuration.
package wsl

import (
	"context"
	"io"
)

// Distro describes a registered distribution as reported by the runtime
type Distro struct {
	Name    string
	Status  string // "Running", "Stopped"
	Version string // WSL version: "1" or "2"
	Default bool
}

// Client is the surface of the WSL runtime the engine depends on
type Client interface {
	// Export produces a full tarball snapshot of a distribution at destPath
	Export(ctx context.Context, name, destPath string) error

	// Import registers a new distribution from a tarball artifact
	Import(ctx context.Context, name, installDir, artifactPath string) error

	// List returns every registered distribution
	List(ctx context.Context) ([]Distro, error)

	// Exec runs a command inside a distribution and returns combined output
	Exec(ctx context.Context, name string, command ...string) ([]byte, error)

	// ExecToFile runs a command inside a distribution streaming stdout to destPath
	ExecToFile(ctx context.Context, name, destPath string, command ...string) error

	// ExecWithInput runs a command inside a distribution feeding input to stdin
	ExecWithInput(ctx context.Context, name string, input io.Reader, command ...string) error

	// Terminate stops a running distribution
	Terminate(ctx context.Context, name string) error

	// Unregister removes a distribution and its filesystem
	Unregister(ctx context.Context, name string) error
}
