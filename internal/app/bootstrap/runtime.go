// Package bootstrap holds the builders shared by the binaries under cmd.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/smart-care-platform/internal/appointments"
	"github.com/wolfman30/smart-care-platform/internal/audit"
	appconfig "github.com/wolfman30/smart-care-platform/internal/config"
	"github.com/wolfman30/smart-care-platform/internal/directory"
	"github.com/wolfman30/smart-care-platform/internal/store"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// Store backends selected by STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamo   = "dynamodb"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgresPool opens a pgx pool, or returns nil for an empty URL.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// BuildStore selects the document store backend. pool is required for postgres and
// awsCfg for dynamodb.
func BuildStore(cfg *appconfig.Config, pool *pgxpool.Pool, awsCfg aws.Config, logger *logging.Logger) (store.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.Component("store")

	switch cfg.StoreBackend {
	case "", StoreMemory:
		logger.Warn("using in-memory document store; data is lost on restart")
		return store.NewMemoryStore(), nil
	case StorePostgres:
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: STORE_BACKEND=postgres requires DATABASE_URL")
		}
		listener := store.NewSharedListener(store.NewConnListener(pool.Config().ConnConfig), logger)
		return store.NewPostgresStore(pool, listener, logger), nil
	case StoreDynamo:
		if strings.TrimSpace(cfg.DocumentsTable) == "" {
			return nil, fmt.Errorf("bootstrap: STORE_BACKEND=dynamodb requires DOCUMENTS_TABLE")
		}
		return store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DocumentsTable, cfg.StorePollInterval, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// BuildDirectory wraps the users collection with the LRU and optional Redis cache.
func BuildDirectory(cfg *appconfig.Config, st store.Store, redisClient *redis.Client, logger *logging.Logger) (directory.Directory, error) {
	base := directory.NewStoreDirectory(st)
	if cfg == nil || cfg.DirectoryCacheSize <= 0 {
		return base, nil
	}
	cached, err := directory.NewCachedDirectory(base, cfg.DirectoryCacheSize, cfg.DirectoryCacheTTL, redisClient, logger)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// BuildActivity returns the Postgres audit service when DATABASE_URL is set, otherwise a
// log-only recorder. The returned *sql.DB is nil in the latter case and must be closed
// by the caller otherwise.
func BuildActivity(cfg *appconfig.Config, logger *logging.Logger) (appointments.ActivityRecorder, *audit.Service, *sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return audit.NewLogRecorder(logger), nil, nil, nil
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	svc := audit.NewService(db)
	return svc, svc, db, nil
}
