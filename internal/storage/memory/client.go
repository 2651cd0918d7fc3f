package memory

import (
	"context"
	"sort"
	"sync"
)

type Client struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func New() *Client {
	return &Client{online: make(map[string]struct{})}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetOnline(_ context.Context, userID string) error {
	c.mu.Lock()
	c.online[userID] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) SetOffline(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.online, userID)
	c.mu.Unlock()
	return nil
}

// Online returns a sorted list so responses are deterministic.
func (c *Client) Online(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.online))
	for id := range c.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
