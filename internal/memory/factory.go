package memory

import (
	"context"
	"fmt"
	"strings"
)

// Backend kinds accepted by NewBackend.
const (
	BackendAuto     = "auto"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendInMemory = "inmemory"
)

// BackendConfig selects and configures a persistence backend.
type BackendConfig struct {
	Kind        string
	DataDir     string
	SQLitePath  string
	DatabaseURL string
}

// ResolveKind returns the concrete backend kind for cfg. Auto picks postgres
// when a database URL is configured, otherwise the file backend.
func (c BackendConfig) ResolveKind() string {
	kind := strings.ToLower(strings.TrimSpace(c.Kind))
	if kind == "" || kind == BackendAuto {
		if strings.TrimSpace(c.DatabaseURL) != "" {
			return BackendPostgres
		}
		return BackendFile
	}
	return kind
}

// NewBackend opens the backend described by cfg.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch kind := cfg.ResolveKind(); kind {
	case BackendFile:
		return NewFileBackend(cfg.DataDir)
	case BackendSQLite:
		return OpenSQLiteBackend(ctx, cfg.SQLitePath)
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("memory: postgres backend requires a database URL")
		}
		return NewPostgresBackend(ctx, cfg.DatabaseURL)
	case BackendInMemory:
		return NewInMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("memory: unknown backend %q (expected auto|file|sqlite|postgres|inmemory)", kind)
	}
}
