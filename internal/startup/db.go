package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/retry"
)

// Backoff is the startup retry schedule: 2s, 4s, ... up to 30s, about two minutes in total.
var Backoff = retry.Policy{MaxAttempts: 6, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

// ConnectDB connects to Postgres with retries so a slow database does not kill the relay at once.
func ConnectDB(ctx context.Context, poolCfg *pgxpool.Config, p retry.Policy) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := p.Do(ctx, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pl, err := pgxpool.NewWithConfig(connCtx, poolCfg)
		if err != nil {
			return err
		}
		if err := pl.Ping(connCtx); err != nil {
			pl.Close()
			return err
		}
		pool = pl
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		logger.Errorf("db connect failed (attempt %d), retry in %v: %v", attempt, wait, err)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	return pool, nil
}

// RunMigrations applies the embedded .sql files in name order. Migrations are idempotent (IF NOT EXISTS).
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, files fs.FS) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}
