package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"storefront-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/merge_cart.lua
var mergeCartScript string

const (
	cartTTL        = 14 * 24 * time.Hour
	accessCacheTTL = 5 * time.Minute
)

type Client struct {
	rdb         *redis.Client
	mergeScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		mergeScript: redis.NewScript(mergeCartScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// AddCartEntry records a product in the session cart. Returns false when the
// product was already present.
func (c *Client) AddCartEntry(ctx context.Context, sessionID string, productID int64) (bool, error) {
	key := cartKey(sessionID)

	added, err := c.rdb.HSetNX(ctx, key, strconv.FormatInt(productID, 10), 1).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add cart entry: %w", err)
	}
	c.rdb.Expire(ctx, key, cartTTL)
	return added, nil
}

// RemoveCartEntry deletes a product from the session cart. Returns false when
// the product was not in the cart.
func (c *Client) RemoveCartEntry(ctx context.Context, sessionID string, productID int64) (bool, error) {
	removed, err := c.rdb.HDel(ctx, cartKey(sessionID), strconv.FormatInt(productID, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove cart entry: %w", err)
	}
	return removed > 0, nil
}

// GetCartProductIDs returns the product ids currently in the session cart
func (c *Client) GetCartProductIDs(ctx context.Context, sessionID string) ([]int64, error) {
	fields, err := c.rdb.HKeys(ctx, cartKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PruneCartEntries deletes stale product ids from the session cart
func (c *Client) PruneCartEntries(ctx context.Context, sessionID string, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}

	fields := make([]string, len(productIDs))
	for i, id := range productIDs {
		fields[i] = strconv.FormatInt(id, 10)
	}
	return c.rdb.HDel(ctx, cartKey(sessionID), fields...).Err()
}

// ClearCart empties the session cart
func (c *Client) ClearCart(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, cartKey(sessionID)).Err()
}

// MergeCarts atomically unions the source session cart into the destination
// cart and removes the source. Idempotent: a second run moves nothing.
func (c *Client) MergeCarts(ctx context.Context, fromSessionID, toSessionID string) (int64, error) {
	result, err := c.mergeScript.Run(ctx, c.rdb,
		[]string{cartKey(fromSessionID), cartKey(toSessionID)}).Result()
	if err != nil {
		return 0, fmt.Errorf("merge cart script failed: %w", err)
	}

	moved, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return moved, nil
}

// SetCartProductIDs rewrites the session cart to exactly the given set
func (c *Client) SetCartProductIDs(ctx context.Context, sessionID string, productIDs []int64) error {
	key := cartKey(sessionID)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for _, id := range productIDs {
		pipe.HSet(ctx, key, strconv.FormatInt(id, 10), 1)
	}
	if len(productIDs) > 0 {
		pipe.Expire(ctx, key, cartTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetViewer loads the identity snapshot for a session from the external
// session store. A missing session yields an anonymous viewer.
func (c *Client) GetViewer(ctx context.Context, sessionID string) (models.Viewer, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf("session:%s", sessionID)).Result()
	if err == redis.Nil {
		return models.Viewer{}, nil
	}
	if err != nil {
		return models.Viewer{}, fmt.Errorf("failed to load session: %w", err)
	}

	var viewer models.Viewer
	if err := json.Unmarshal([]byte(raw), &viewer); err != nil {
		return models.Viewer{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return viewer, nil
}

// SetViewer stores an identity snapshot for a session with TTL
func (c *Client) SetViewer(ctx context.Context, sessionID string, viewer models.Viewer, ttl time.Duration) error {
	raw, err := json.Marshal(viewer)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf("session:%s", sessionID), raw, ttl).Err()
}

func accessKey(userID, productID int64) string {
	return fmt.Sprintf("access:%d:%d", userID, productID)
}

// GetCachedAccess returns a cached access decision, or "" on miss
func (c *Client) GetCachedAccess(ctx context.Context, userID, productID int64) (string, error) {
	level, err := c.rdb.Get(ctx, accessKey(userID, productID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return level, nil
}

// CacheAccess stores an access decision with a short TTL. The TTL bounds
// staleness; correctness never depends on invalidation.
func (c *Client) CacheAccess(ctx context.Context, userID, productID int64, level string) error {
	return c.rdb.Set(ctx, accessKey(userID, productID), level, accessCacheTTL).Err()
}

// InvalidateAccess drops the cached decision for one (user, product) pair
func (c *Client) InvalidateAccess(ctx context.Context, userID, productID int64) error {
	return c.rdb.Del(ctx, accessKey(userID, productID)).Err()
}
