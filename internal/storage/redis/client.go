package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKey = "presence:online"
	// onlineTTL expires marks left behind by a relay that died before clearing them.
	onlineTTL = 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetOnline adds the user to the presence:online set.
func (c *Client) SetOnline(ctx context.Context, userID string) error {
	pipe := c.cli.TxPipeline()
	pipe.SAdd(ctx, onlineKey, userID)
	pipe.Expire(ctx, onlineKey, onlineTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set online: %w", err)
	}
	return nil
}

func (c *Client) SetOffline(ctx context.Context, userID string) error {
	if err := c.cli.SRem(ctx, onlineKey, userID).Err(); err != nil {
		return fmt.Errorf("redis set offline: %w", err)
	}
	return nil
}

func (c *Client) Online(ctx context.Context) ([]string, error) {
	ids, err := c.cli.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis online: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Reset clears the registry at relay start, when no connections exist yet.
func (c *Client) Reset(ctx context.Context) error {
	return c.cli.Del(ctx, onlineKey).Err()
}
