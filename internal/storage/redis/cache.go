package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

const defaultHardwareIDTTL = 2 * time.Minute

type Client struct {
	*redis.Client
	hardwareIDTTL time.Duration
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	return &Client{Client: redis.NewClient(opt), hardwareIDTTL: defaultHardwareIDTTL}
}

// WithHardwareIDTTL sets how long resolved client MAC addresses are kept.
func (c *Client) WithHardwareIDTTL(ttl time.Duration) *Client {
	if ttl > 0 {
		c.hardwareIDTTL = ttl
	}
	return c
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

func hardwareIDKey(tenantID, address string) string {
	return fmt.Sprintf("hotspot:hwid:%s:%s", tenantID, address)
}

func (c *Client) SetHardwareID(ctx context.Context, tenantID, address, mac string) error {
	return c.Set(ctx, hardwareIDKey(tenantID, address), mac, c.hardwareIDTTL).Err()
}

func (c *Client) GetHardwareID(ctx context.Context, tenantID, address string) (string, error) {
	mac, err := c.Get(ctx, hardwareIDKey(tenantID, address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return mac, nil
}

// Ping reports whether Redis is reachable, for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
