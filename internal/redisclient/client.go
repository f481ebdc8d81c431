package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/next_sequence.lua
var nextSequenceScript string

//go:embed scripts/flag_low_stock.lua
var flagLowStockScript string

const lowStockSetKey = "stock:low"

// LowStockTransition describes how an ingredient's low-stock flag changed
type LowStockTransition int

const (
	LowStockUnchanged LowStockTransition = 0
	LowStockEntered   LowStockTransition = 1
	LowStockRecovered LowStockTransition = -1
)

type Client struct {
	rdb            *redis.Client
	sequenceScript *redis.Script
	lowStockScript *redis.Script
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

	return newWithClient(rdb), nil
}

func newWithClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		sequenceScript: redis.NewScript(nextSequenceScript),
		lowStockScript: redis.NewScript(flagLowStockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// NextSequence atomically increments a named counter. The counter expires
// ttl after its first increment, so daily sequences reset on their own.
func (c *Client) NextSequence(ctx context.Context, name string, ttl time.Duration) (int64, error) {
	key := fmt.Sprintf("seq:%s", name)

	result, err := c.sequenceScript.Run(ctx, c.rdb, []string{key}, int64(ttl.Seconds())).Result()
	if err != nil {
		return 0, fmt.Errorf("sequence script failed: %w", err)
	}

	n, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return n, nil
}

// FlagLowStock records whether an ingredient is currently low and reports
// whether that state just changed
func (c *Client) FlagLowStock(ctx context.Context, ingredientID int64, low bool) (LowStockTransition, error) {
	flag := "0"
	if low {
		flag = "1"
	}

	result, err := c.lowStockScript.Run(ctx, c.rdb, []string{lowStockSetKey},
		strconv.FormatInt(ingredientID, 10), flag).Result()
	if err != nil {
		return LowStockUnchanged, fmt.Errorf("low stock script failed: %w", err)
	}

	n, ok := result.(int64)
	if !ok {
		return LowStockUnchanged, fmt.Errorf("unexpected script result type")
	}
	return LowStockTransition(n), nil
}

// LowStockIngredients lists the ingredient IDs currently flagged low
func (c *Client) LowStockIngredients(ctx context.Context) ([]int64, error) {
	members, err := c.rdb.SMembers(ctx, lowStockSetKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the stored value, or "" when absent
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
