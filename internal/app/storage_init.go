package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/file"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

// storageDeps — выбранное хранилище payload корзин и его жизненный цикл.
type storageDeps struct {
	storage domain.PayloadStorage
	pinger  domain.Pinger
	closeFn func() error
}

func (d *storageDeps) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initStorage открывает хранилище по cfg.StorageDriver.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storageDeps, error) {
	storageLogger := logger.WithField("storage", cfg.StorageDriver)

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		storage := memory.NewPayloadStorage()
		storageLogger.Info("using in-memory cart storage, carts are lost on restart")
		return &storageDeps{storage: storage, pinger: storage}, nil

	case StorageDriverFile:
		storage, err := file.NewPayloadStorage(cfg.FileDir)
		if err != nil {
			return nil, fmt.Errorf("init file storage: %w", err)
		}
		storageLogger.WithField("dir", storage.Dir()).Info("using file cart storage")
		return &storageDeps{storage: storage, pinger: storage}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires postgres_dsn")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		store.WithLogger(storageLogger)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres schema: %w", err)
			}
		}
		repo := postgres.NewPayloadRepository(store)
		storageLogger.Info("using postgres cart storage")
		return &storageDeps{storage: repo, pinger: repo, closeFn: store.Close}, nil

	case StorageDriverRedis:
		opts := redisstore.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
			TTL:       cfg.RedisTTL,
		}
		storage := redisstore.NewPayloadStorage(redisstore.NewClient(opts), opts, storageLogger)
		if err := storage.Ping(ctx); err != nil {
			// Redis может подняться позже: breaker и readiness покажут недоступность.
			storageLogger.WithError(err).Warn("redis is not reachable yet")
		}
		storageLogger.WithField("addr", cfg.RedisAddr).Info("using redis cart storage")
		return &storageDeps{storage: storage, pinger: storage, closeFn: storage.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// OpenStorage открывает хранилище корзин вне сервиса, например для CLI.
// Вызывающий обязан вызвать closeFn.
func OpenStorage(ctx context.Context, cfg Config, logger *log.Entry) (storage domain.PayloadStorage, closeFn func(), err error) {
	if logger == nil {
		logger = log.WithField("component", "storage")
	}
	deps, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return deps.storage, func() { deps.close(logger) }, nil
}
