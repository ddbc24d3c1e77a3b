package debt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "debt:version"
	bumpChannel     = "debt.bump"
)

// Cache keeps derived debtor listings in Redis behind a global version
// counter. Writers bump the version instead of deleting keys, so stale
// entries age out on TTL. Loads for the same key are collapsed through
// singleflight so a cold cache does not stampede the database.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) buildKey(ctx context.Context, kind Kind, filter ListFilter) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("debt:%s:%s:%s:%t:%d", kind, filter.Branch, filter.Search, filter.IncludeSettled, ver), nil
}

// Debtors returns the cached listing for the filter, falling back to the
// loader on a miss. Cache failures degrade to a direct load.
func (c *Cache) Debtors(ctx context.Context, kind Kind, filter ListFilter, load func(context.Context) ([]Debtor, error)) ([]Debtor, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key, err := c.buildKey(ctx, kind, filter)
	if err != nil {
		return load(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var debtors []Debtor
		if err := json.Unmarshal(payload, &debtors); err == nil {
			return debtors, nil
		}
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		debtors, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(debtors); err == nil {
			c.client.Set(ctx, key, raw, c.ttl)
		}
		return debtors, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Debtor), nil
}

// Bump invalidates all cached listings by incrementing the version and
// publishing an event for other replicas.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}
