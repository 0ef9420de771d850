package wsl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/johndauphine/wsl-backup/internal/errdefs"
	"github.com/johndauphine/wsl-backup/internal/logging"
)

// CommandClient implements Client by shelling out to the WSL binary
type CommandClient struct {
	binary string
}

// NewCommandClient creates a client for the given WSL executable
func NewCommandClient(binary string) *CommandClient {
	if binary == "" {
		binary = "wsl.exe"
	}
	return &CommandClient{binary: binary}
}

func (c *CommandClient) run(ctx context.Context, args ...string) ([]byte, error) {
	logging.Debug("exec: %s %s", c.binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &errdefs.ExternalToolError{
			Tool:   c.binary,
			Args:   args,
			Stderr: decodeOutput(stderr.Bytes()),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// Export produces a full tarball snapshot of a distribution at destPath
func (c *CommandClient) Export(ctx context.Context, name, destPath string) error {
	_, err := c.run(ctx, "--export", name, destPath)
	return err
}

// Import registers a new distribution from a tarball artifact
func (c *CommandClient) Import(ctx context.Context, name, installDir, artifactPath string) error {
	if err := os.MkdirAll(installDir, 0755); err != nil {
		return fmt.Errorf("creating install dir: %w", err)
	}
	_, err := c.run(ctx, "--import", name, installDir, artifactPath)
	return err
}

// List returns every registered distribution
func (c *CommandClient) List(ctx context.Context) ([]Distro, error) {
	out, err := c.run(ctx, "--list", "--verbose")
	if err != nil {
		return nil, err
	}
	return parseList(decodeOutput(out)), nil
}

// Exec runs a command inside a distribution and returns combined output
func (c *CommandClient) Exec(ctx context.Context, name string, command ...string) ([]byte, error) {
	args := append([]string{"-d", name, "--"}, command...)
	return c.run(ctx, args...)
}

// ExecToFile runs a command inside a distribution streaming stdout to destPath
func (c *CommandClient) ExecToFile(ctx context.Context, name, destPath string, command ...string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	args := append([]string{"-d", name, "--"}, command...)
	logging.Debug("exec: %s %s > %s", c.binary, strings.Join(args, " "), destPath)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdout = f
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &errdefs.ExternalToolError{
			Tool:   c.binary,
			Args:   args,
			Stderr: decodeOutput(stderr.Bytes()),
			Err:    err,
		}
	}
	return f.Sync()
}

// ExecWithInput runs a command inside a distribution feeding input to stdin
func (c *CommandClient) ExecWithInput(ctx context.Context, name string, input io.Reader, command ...string) error {
	args := append([]string{"-d", name, "--"}, command...)
	logging.Debug("exec (stdin): %s %s", c.binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdin = input
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &errdefs.ExternalToolError{
			Tool:   c.binary,
			Args:   args,
			Stderr: decodeOutput(stderr.Bytes()),
			Err:    err,
		}
	}
	return nil
}

// Terminate stops a running distribution
func (c *CommandClient) Terminate(ctx context.Context, name string) error {
	_, err := c.run(ctx, "--terminate", name)
	return err
}

// Unregister removes a distribution and its filesystem
func (c *CommandClient) Unregister(ctx context.Context, name string) error {
	_, err := c.run(ctx, "--unregister", name)
	return err
}

// decodeOutput strips the UTF-16 NUL bytes the WSL binary emits on Windows
// so output can be treated as plain text.
func decodeOutput(b []byte) string {
	return strings.ReplaceAll(string(bytes.ReplaceAll(b, []byte{0}, nil)), "\r\n", "\n")
}

// parseList parses `wsl --list --verbose` output:
//
//	  NAME      STATE           VERSION
//	* Ubuntu    Running         2
//	  Debian    Stopped         2
func parseList(out string) []Distro {
	var distros []Distro
	for i, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, " \t")
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header or trailing blank
		}
		isDefault := false
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "*") {
			isDefault = true
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "*"))
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 3 {
			continue
		}
		distros = append(distros, Distro{
			Name:    fields[0],
			Status:  fields[1],
			Version: fields[2],
			Default: isDefault,
		})
	}
	return distros
}
