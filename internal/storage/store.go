package storage

import "context"

// PresenceRegistry tracks users with at least one WebSocket connection to the relay.
// redis.Client is shared between relay instances; memory.Client serves -dev without Redis.
type PresenceRegistry interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Online(ctx context.Context) ([]string, error)
	Close() error
}
