package credential

import (
	"context"
	"fmt"
)

// Store is the seam to the external secret store. Implementations are bound
// to one caller's token and mount for the lifetime of a request.
type Store interface {
	Write(ctx context.Context, path string, doc map[string]any) error
	Read(ctx context.Context, path string) (map[string]any, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Save persists an already packed record at path.
func Save(ctx context.Context, store Store, path string, r *Record) error {
	if err := store.Write(ctx, path, r.Document()); err != nil {
		return fmt.Errorf("failed to persist %s: %w", path, err)
	}
	return nil
}

// Load reads and rebuilds the record stored at path.
func Load(ctx context.Context, store Store, path string) (*Record, error) {
	doc, err := store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	r, err := RecordFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", path, err)
	}
	return r, nil
}
