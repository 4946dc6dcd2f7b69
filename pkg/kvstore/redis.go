package kvstore

import (
	"context"
	"time"

	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/redis"
)

type redisKV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	KVKey(key string) string
}

// Redis stores entries under the client's kv namespace without expiry.
type Redis struct {
	client redisKV
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.client.KVKey(key))
	if redis.IsMissing(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read redis entry")
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.client.KVKey(key), value, 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write redis entry")
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.client.KVKey(key)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove redis entry")
	}
	return nil
}
