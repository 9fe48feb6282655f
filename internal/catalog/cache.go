package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "catalog:version"
	bumpChannel     = "catalog.bump"
)

// Cache stores catalog payloads in Redis under versioned keys. Bumping the
// version orphans every previously written key.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	if c == nil || c.client == nil {
		return strings.Join(parts, ":"), nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", strings.Join(parts, ":"), ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("catalog cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates the cache by incrementing the version and publishing it
// so other console instances drop their in-memory snapshot.
func (c *Cache) Bump(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return 0, err
	}
	if err := c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err(); err != nil {
		return ver, err
	}
	return ver, nil
}

// Subscribe calls onBump for every version bump published by any instance
// until ctx is done.
func (c *Cache) Subscribe(ctx context.Context, onBump func(version int64)) error {
	if c == nil || c.client == nil || onBump == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, _ := strconv.ParseInt(msg.Payload, 10, 64)
				onBump(ver)
			}
		}
	}()
	return nil
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
