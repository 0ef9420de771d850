// Package store is the durable metadata record of every backup and its
// lineage. The backing document is JSON at a fixed path, read fully and
// written back on every mutation. Single-writer usage is assumed; concurrent
// writers are last-writer-wins and out of scope.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/johndauphine/wsl-backup/internal/errdefs"
	"github.com/johndauphine/wsl-backup/internal/logging"
)

// ErrNotFound is returned when a backup id does not exist in the store
var ErrNotFound = errors.New("backup not found")

// schemaVersion is the current metadata document version
const schemaVersion = 1

// BackupType distinguishes full exports from incremental deltas
type BackupType string

const (
	// TypeFull is a complete point-in-time export of a distribution
	TypeFull BackupType = "full"
	// TypeIncremental is a delta of files changed since a parent backup
	TypeIncremental BackupType = "incremental"
)

// EnvironmentSnapshot captures distribution state at backup creation time
type EnvironmentSnapshot struct {
	Version        string `json:"version,omitempty"`
	Status         string `json:"status,omitempty"`
	UsedSpaceBytes int64  `json:"used_space_bytes,omitempty"`
}

// BackupRecord is one immutable entry per backup operation
type BackupRecord struct {
	ID               string              `json:"id"`
	DistributionName string              `json:"distribution_name"`
	BackupType       BackupType          `json:"backup_type"`
	ArtifactPath     string              `json:"artifact_path"`
	CreatedAt        time.Time           `json:"created_at"`
	SizeBytes        int64               `json:"size_bytes"`
	Checksum         string              `json:"checksum"`
	ParentBackupID   string              `json:"parent_backup_id,omitempty"`
	ChangedFileCount int                 `json:"changed_file_count,omitempty"`
	ChangedFiles     []string            `json:"changed_files,omitempty"`
	Source           EnvironmentSnapshot `json:"source_environment"`

	// Extra carries unknown fields from newer or older schema versions
	Extra map[string]string `json:"extra,omitempty"`
}

// IsIncremental reports whether the record is an incremental backup
func (r *BackupRecord) IsIncremental() bool {
	return r.BackupType == TypeIncremental
}

type document struct {
	Version int            `json:"version"`
	Backups []BackupRecord `json:"backups"`
}

// Store persists BackupRecords in a JSON document at a fixed path
type Store struct {
	path string
}

// New creates a store backed by the document at path. The document is created
// lazily on first append.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing document location
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{Version: schemaVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata document: %w", err)
	}

	// Documents written before the schema was versioned are a bare array
	if len(data) > 0 && data[0] == '[' {
		var backups []BackupRecord
		if err := json.Unmarshal(data, &backups); err != nil {
			return nil, fmt.Errorf("parsing legacy metadata document: %w", err)
		}
		return &document{Version: schemaVersion, Backups: backups}, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing metadata document: %w", err)
	}
	return &doc, nil
}

func (s *Store) save(doc *document) error {
	if len(doc.Backups) == 0 {
		// An empty store removes its document rather than persisting an
		// empty collection.
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing empty metadata document: %w", err)
		}
		return nil
	}

	doc.Version = schemaVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing metadata document: %w", err)
	}
	return nil
}

// Append adds a record to the store and returns its id, generating one if the
// record has none. The record's artifact must already exist with its checksum
// computed; append is the last step of backup creation.
func (s *Store) Append(rec BackupRecord) (string, error) {
	doc, err := s.load()
	if err != nil {
		return "", err
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	for _, existing := range doc.Backups {
		if existing.ID == rec.ID {
			return "", fmt.Errorf("backup id %s already exists", rec.ID)
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	doc.Backups = append(doc.Backups, rec)
	if err := s.save(doc); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// All returns every record in append order
func (s *Store) All() ([]BackupRecord, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Backups, nil
}

// Find returns the record with the given id, or ErrNotFound
func (s *Store) Find(id string) (*BackupRecord, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Backups {
		if doc.Backups[i].ID == id {
			return &doc.Backups[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Dependents returns the ids of incremental records whose parent is id
func (s *Store) Dependents(id string) ([]string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return directDependents(doc.Backups, id), nil
}

func directDependents(backups []BackupRecord, id string) []string {
	var deps []string
	for _, rec := range backups {
		if rec.ParentBackupID == id {
			deps = append(deps, rec.ID)
		}
	}
	return deps
}

// Delete removes the record with the given id and returns the removed ids.
// Without cascade, deletion is rejected with a DependencyError if incremental
// records still reference the target. With cascade, the entire transitively
// dependent subtree is removed. Artifact files are deleted best-effort:
// a failed artifact removal is logged, not fatal to the metadata removal.
func (s *Store) Delete(id string, cascade bool) ([]string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	found := false
	for _, rec := range doc.Backups {
		if rec.ID == id {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	deps := directDependents(doc.Backups, id)
	if len(deps) > 0 && !cascade {
		return nil, &errdefs.DependencyError{BackupID: id, DependentIDs: deps}
	}

	// Collect the subtree rooted at id (the record itself plus every
	// transitive dependent).
	remove := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range directDependents(doc.Backups, current) {
			if !remove[dep] {
				remove[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	var kept []BackupRecord
	var removed []string
	for _, rec := range doc.Backups {
		if !remove[rec.ID] {
			kept = append(kept, rec)
			continue
		}
		removed = append(removed, rec.ID)
		if rec.ArtifactPath != "" {
			if err := os.Remove(rec.ArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logging.Warn("could not delete artifact %s: %v", rec.ArtifactPath, err)
			}
		}
	}

	doc.Backups = kept
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return removed, nil
}
