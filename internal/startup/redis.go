package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/retry"
	redisstorage "github.com/rtchat/internal/storage/redis"
)

// ConnectRedis connects to Redis, retrying per p.
func ConnectRedis(ctx context.Context, redisURL string, p retry.Policy) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := p.Do(ctx, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(connCtx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		logger.Errorf("redis connect failed (attempt %d), retry in %v: %v", attempt, wait, err)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
