// Package factory builds the configured IBatchPersistence backend.
package factory

import (
	"fmt"

	"github.com/certanchor/cert-issuer-go/pkg/config"
	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/badger"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/memory"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/redis"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/sqlite"
	"go.uber.org/zap"
)

// NewPersistence opens the backend selected by cfg.Type. An empty type means memory.
func NewPersistence(cfg *config.PersistenceConfig, logger *zap.Logger) (persistence.IBatchPersistence, error) {
	if cfg == nil {
		cfg = &config.PersistenceConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "", config.PersistenceType_Memory:
		return memory.NewMemoryPersistence(logger), nil
	case config.PersistenceType_Badger:
		return badger.NewBadgerPersistence(cfg.DataDir, logger)
	case config.PersistenceType_SQLite:
		return sqlite.NewSQLitePersistence(cfg.DataDir, logger)
	case config.PersistenceType_Redis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported persistence type %q", cfg.Type)
	}
}
