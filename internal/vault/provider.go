// Package vault provides read-only, path-safe access to a directory tree of
// markdown notes.
package vault

import (
	"context"

	"github.com/starford/steward/internal/models"
)

// Provider is the interface for vault read operations.
type Provider interface {
	// List returns every .md file under the vault root, sorted by path.
	List(ctx context.Context) ([]models.VaultFile, error)
	// Read returns the full text of the file at path (relative to vault root).
	Read(ctx context.Context, path string) (string, error)
	// Recent returns up to limit .md files ordered by modification time, newest first.
	Recent(ctx context.Context, limit int) ([]models.RecentFile, error)
	// Search returns one hit per line containing query, case-insensitively.
	Search(ctx context.Context, query string) ([]models.SearchHit, error)
}

// Verify *Reader satisfies Provider at compile time.
var _ Provider = (*Reader)(nil)
