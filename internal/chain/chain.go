// Package chain resolves incremental backup lineage into replay order.
package chain

import (
	"errors"

	"github.com/johndauphine/wsl-backup/internal/errdefs"
	"github.com/johndauphine/wsl-backup/internal/store"
)

// maxDepth bounds chain traversal; a walk longer than this is treated as a
// cycle rather than a plausible chain.
const maxDepth = 64

// Resolver walks parent links in the metadata store
type Resolver struct {
	store *store.Store
}

// NewResolver creates a resolver over the given store
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the replay sequence for the given backup id, root first:
// the originating full backup, then each incremental in parent-to-child
// order, ending with the requested record. A full backup resolves to a
// single-element chain.
func (r *Resolver) Resolve(id string) ([]store.BackupRecord, error) {
	var reversed []store.BackupRecord

	current, err := r.store.Find(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &errdefs.ChainError{BackupID: id, Reason: "backup does not exist"}
		}
		return nil, err
	}

	for {
		if len(reversed) >= maxDepth {
			return nil, &errdefs.ChainError{BackupID: id, Reason: "chain exceeds depth bound (possible cycle)"}
		}
		reversed = append(reversed, *current)

		if current.BackupType == store.TypeFull {
			break
		}
		if current.ParentBackupID == "" {
			return nil, &errdefs.ChainError{BackupID: current.ID, Reason: "incremental backup has no parent reference"}
		}

		parent, err := r.store.Find(current.ParentBackupID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &errdefs.ChainError{
					BackupID: current.ID,
					Reason:   "parent backup " + current.ParentBackupID + " does not exist",
				}
			}
			return nil, err
		}
		current = parent
	}

	// Reverse so replay order is full-first
	chain := make([]store.BackupRecord, len(reversed))
	for i, rec := range reversed {
		chain[len(reversed)-1-i] = rec
	}
	return chain, nil
}
