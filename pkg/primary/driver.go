// Package primary defines the driver interface for the authoritative
// semantic memory engine. A primary driver owns memory ids and existence;
// the relational mirror is a best-effort projection of it.
//
// Drivers are pluggable via configuration:
//
//	[primary]
//	provider = "inmemory"   # or "chroma"
package primary

import (
	"context"

	"github.com/mnemohq/mnemo/pkg/memory"
)

// Record is a memory as the primary store sees it: opaque id, current text,
// and the open metadata map supplied at write time.
type Record struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// SearchResult pairs a record with its similarity score (higher = more
// similar).
type SearchResult struct {
	Record

	Score float32
}

// Driver is the interface to the semantic store. Every mutation returns the
// event the store decided on (ADD, UPDATE, DELETE, or NONE); the store may
// decide a mutation is a no-op.
type Driver interface {
	// Create stores new memory text and returns the assigned id with the
	// resulting event.
	Create(ctx context.Context, text string, metadata map[string]any) (string, memory.Event, error)

	// Update replaces the text of an existing memory.
	Update(ctx context.Context, id, text string, metadata map[string]any) (memory.Event, error)

	// Delete removes a memory.
	Delete(ctx context.Context, id string) (memory.Event, error)

	// Get retrieves one memory. Returns nil, nil when the id is unknown.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns every stored memory.
	List(ctx context.Context) ([]*Record, error)

	// Search returns up to limit records relevant to the query, most
	// relevant first.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Close releases driver resources.
	Close() error
}
