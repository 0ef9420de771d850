// Package integrity computes and verifies artifact checksums. Digests carry
// an algorithm tag ("sha256:<hex>") so the algorithm can change without
// invalidating records written by older versions.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/johndauphine/wsl-backup/internal/errdefs"
)

// Algorithm is the digest algorithm tag recorded with every checksum
const Algorithm = "sha256"

// Digest returns the tagged checksum of the file at path
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing artifact: %w", err)
	}
	return Algorithm + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the digest of path and compares it to expected.
// A mismatch returns an IntegrityError; an unknown algorithm tag is a
// plain error since the artifact cannot be judged either way.
func Verify(path, expected string) error {
	algo, _, ok := strings.Cut(expected, ":")
	if !ok {
		return fmt.Errorf("malformed checksum %q: missing algorithm tag", expected)
	}
	if algo != Algorithm {
		return fmt.Errorf("unsupported checksum algorithm %q", algo)
	}

	actual, err := Digest(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return &errdefs.IntegrityError{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}
