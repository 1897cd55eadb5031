package turn

import (
	"context"
	"strings"
)

// Store persists the full turn history of a chat. Save overwrites the
// backing record; there is no append-only mode.
type Store interface {
	Load(ctx context.Context, chatName string) ([]Turn, error)
	Save(ctx context.Context, chatName string, turns []Turn) error
	Delete(ctx context.Context, chatName string) error
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise
// a JSON file store under dataDir.
func NewStore(ctx context.Context, databaseURL, dataDir string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewFileStore(dataDir)
	}
	return NewPostgresStore(ctx, databaseURL)
}
