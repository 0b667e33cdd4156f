// Package lookup resolves free-text queries to document references and keeps
// wiki-link titles in sync when documents are renamed.
package lookup

import (
	"context"
	"errors"

	"github.com/inkpad/inkpad/internal/config"
)

// ErrNotFound is returned when a document ID is not in the index.
var ErrNotFound = errors.New("document not found")

// Record is one document known to the index.
type Record struct {
	DocID string `json:"docId"`
	Title string `json:"docTitle"`
}

// Store is the document index consulted when resolving wiki links.
type Store interface {
	// Search returns candidate documents for a free-text query, best
	// matches first. An empty query returns no candidates.
	Search(ctx context.Context, query string, limit int) ([]Record, error)

	// Get returns the record for a document ID.
	Get(ctx context.Context, docID string) (Record, error)

	// Put inserts or replaces a record.
	Put(ctx context.Context, rec Record) error

	// Rename updates the title of an existing document.
	Rename(ctx context.Context, docID, title string) error

	// Delete removes a document from the index.
	Delete(ctx context.Context, docID string) error

	// Close releases the underlying database.
	Close() error
}

// Open creates the store selected by the configuration.
func Open(cfg config.StoreConfig) (Store, error) {
	var s Store
	var err error
	switch cfg.Type {
	case config.StorePostgres:
		s, err = NewPostgresStore(cfg.DSN)
	default:
		s, err = NewSQLiteStore(cfg.Path)
	}
	if err != nil {
		return nil, err
	}
	if ttl := cfg.GetCacheTTL(); ttl > 0 {
		s = NewCachedStore(s, ttl)
	}
	return s, nil
}
