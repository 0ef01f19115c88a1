package db

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-service-tracker/internal/config"
)

// Open builds the Storage selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStorage(cfg.Path)
	case config.BackendSQLite:
		return NewSQLiteStorage(cfg.Path)
	case config.BackendMongo:
		return NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
	case config.BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
