// Package source reads documents from the document store being migrated.
package source

import (
	"context"

	"github.com/memeplatform/memeops/internal/records"
)

// Source provides the complete set of documents of each kind.
// Implementations must respect context cancellation.
type Source interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Fetch returns every document of kind, ordered by identity so offsets are
	// stable between runs. Returns an empty slice (not nil) for an empty
	// collection.
	Fetch(ctx context.Context, kind records.Kind) ([]records.Document, error)

	// Close releases the connection.
	Close(ctx context.Context) error
}
