package docstore

import (
	"context"
	"fmt"

	"github.com/markb/firelite/internal/db"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	PostgresDSN   string
}

// Open constructs the configured backend. The caller owns the returned store
// and must Close it.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite, "":
		database, err := db.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &SQLite{db: database.DB, closer: database}, nil
	case BackendMongo:
		return NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case BackendPostgres:
		return NewPostgres(ctx, cfg.PostgresDSN)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
