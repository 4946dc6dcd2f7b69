// Package kvstore persists string values under string keys. The cart store
// keeps its whole snapshot under one key.
package kvstore

import (
	"context"
	"fmt"

	"github.com/hogansalley/storefront/pkg/config"
	"github.com/hogansalley/storefront/pkg/db"
	"github.com/hogansalley/storefront/pkg/redis"
)

type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// New selects a backend for driver. The redis and sql drivers need their client.
func New(driver string, redisClient *redis.Client, dbClient *db.Client) (Store, error) {
	switch driver {
	case config.StorageDriverMemory, "":
		return NewMemory(), nil
	case config.StorageDriverRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("kvstore: redis driver requires a redis client")
		}
		return NewRedis(redisClient), nil
	case config.StorageDriverSQL:
		if dbClient == nil {
			return nil, fmt.Errorf("kvstore: sql driver requires a database client")
		}
		return NewSQL(dbClient), nil
	default:
		return nil, fmt.Errorf("kvstore: unsupported driver %q", driver)
	}
}
