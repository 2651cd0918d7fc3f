package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtchat/internal/config"
	"github.com/rtchat/internal/handler"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/repository"
	"github.com/rtchat/internal/startup"
	"github.com/rtchat/internal/storage"
	"github.com/rtchat/internal/storage/memory"
	"github.com/rtchat/internal/ws"
	"github.com/rtchat/migrations"
)

func main() {
	logger.SetPrefix("relay")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep messages in memory (no database)")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	cfg := config.LoadRelay()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Fatalf("embedded postgres: %v", err)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	var store repository.MessageStore
	switch {
	case *inMemory:
		store = repository.NewMemoryStore()
		logger.Info("message store: memory")
	case cfg.DatabaseURL == "":
		logger.Fatalf("DATABASE_URL is required (or run with -dev / -memory)")
	default:
		pool, err := openDB(ctx, cfg)
		if err != nil {
			logger.Fatalf("database: %v", err)
		}
		defer pool.Close()
		if *migrate {
			return
		}
		store = repository.NewMessageRepository(pool)
		logger.Info("message store: postgres")
	}

	presence, err := openPresence(ctx, cfg)
	if err != nil {
		logger.Fatalf("presence: %v", err)
	}
	defer presence.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(store, presence, cfg.MaxWSConnections)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	router := handler.NewRouter(handler.Deps{
		Hub:            hub,
		Store:          store,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		ICEServers:     cfg.CallICEServers,
		WSLimits: ws.Limits{
			WriteWait:      cfg.WSWriteTimeout,
			PongWait:       cfg.WSPongTimeout,
			MaxMessageSize: cfg.WSMaxMessageSize,
			SendBufSize:    cfg.WSSendBufferSize,
		},
		DevTokens:     *dev || *inMemory,
		MetricsSecret: cfg.MetricsSecret,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			hubCancel()
			hubWg.Wait()
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
}

func openDB(ctx context.Context, cfg *config.Relay) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections)

	pool, err := startup.ConnectDB(ctx, poolCfg, startup.Backoff)
	if err != nil {
		return nil, err
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := startup.RunMigrations(migrateCtx, pool, migrations.Files); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected, migrations applied")
	return pool, nil
}

// openPresence uses Redis when REDIS_URL is set, otherwise an in-process registry.
func openPresence(ctx context.Context, cfg *config.Relay) (storage.PresenceRegistry, error) {
	if cfg.RedisURL == "" {
		logger.Info("presence registry: memory")
		return memory.New(), nil
	}
	client, err := startup.ConnectRedis(ctx, cfg.RedisURL, startup.Backoff)
	if err != nil {
		return nil, err
	}
	// Marks from a previous run are stale: nothing is connected to this relay yet.
	resetCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Reset(resetCtx); err != nil {
		logger.Errorf("reset presence: %v", err)
	}
	logger.Info("presence registry: redis")
	return client, nil
}

func startEmbeddedPostgres(cfg *config.Relay) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "relay"
		password = "relay_secret"
		database = "relay"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.DatabaseURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
