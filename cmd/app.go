package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/behzadon/rulebook/internal/admin"
	"github.com/behzadon/rulebook/internal/config"
	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/events"
	"github.com/behzadon/rulebook/internal/lifecycle"
	"github.com/behzadon/rulebook/internal/oracle"
	"github.com/behzadon/rulebook/internal/resolution"
	"github.com/behzadon/rulebook/internal/service"
	"github.com/behzadon/rulebook/internal/storage/cache"
	"github.com/behzadon/rulebook/internal/storage/memory"
	"github.com/behzadon/rulebook/internal/storage/postgres"
	"github.com/behzadon/rulebook/internal/storage/sqlite"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// app holds everything the server and the consumer share.
type app struct {
	redis   *redis.Client
	service service.Service
	closers []func() error
	logger  *zap.Logger
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("Failed to release resource", zap.Error(err))
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Redis.Enabled {
		a.redis, err = connectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.onClose(a.redis.Close)
		logger.Info("Successfully connected to Redis")
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(store.Close)
	var opts []resolution.Option
	if a.redis != nil && cfg.Storage.CacheTTL > 0 {
		// The oracle is always prompted with the rulebook as stored.
		opts = append(opts, resolution.WithSnapshotSource(store))
		store = cache.NewRuleStore(store, a.redis, cfg.Storage.CacheTTL, logger)
	}

	decider, err := oracle.NewOpenAIClient(oracle.Config{
		BaseURL:     cfg.Oracle.BaseURL,
		APIKey:      cfg.Oracle.APIKey,
		Model:       cfg.Oracle.Model,
		Timeout:     cfg.Oracle.Timeout,
		MaxRetries:  cfg.Oracle.MaxRetries,
		Temperature: cfg.Oracle.Temperature,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create oracle client: %w", err)
	}

	admins, err := buildAdminChecker(cfg, a.redis, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := buildPublisher(cfg, a.redis, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Events.Driver != config.EventsDriverRedis {
		// The redis publisher shares a.redis, already registered for close.
		a.onClose(publisher.Close)
	}

	if cfg.Resolution.Coalesce {
		opts = append(opts, resolution.WithCoalescing(cfg.Resolution.Timeout))
	}
	tracker := lifecycle.NewTracker(store, logger)
	engine := resolution.NewEngine(store, tracker, decider, logger, opts...)

	a.service = service.NewService(store, tracker, engine, admins, publisher, cfg.Resolution.Timeout, logger)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		if cfg.Migration.AutoMigrate {
			logger.Info("Auto-migration is enabled, running migrations...")
			if err := runMigrations(ctx, "up"); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("Migrations completed successfully")
		}
		db, err := postgres.Connect(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return postgres.NewStore(db, logger), nil
	case config.StorageDriverSQLite:
		store, err := sqlite.Open(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.StorageDriverMemory:
		logger.Warn("Using the in-memory store, rules are lost on restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func buildAdminChecker(cfg *config.Config, client *redis.Client, logger *zap.Logger) (admin.Checker, error) {
	var checker admin.Checker
	switch cfg.Admins.Mode {
	case config.AdminsModeStatic:
		checker = admin.NewStaticChecker(cfg.Admins.UserIDs)
	case config.AdminsModeTelegram:
		telegram, err := admin.NewTelegramChecker(cfg.Admins.APIURL, cfg.Admins.BotToken, 10*time.Second, logger)
		if err != nil {
			return nil, fmt.Errorf("create telegram admin checker: %w", err)
		}
		checker = telegram
	default:
		return nil, fmt.Errorf("unsupported admins mode %q", cfg.Admins.Mode)
	}

	if client != nil && cfg.Admins.CacheTTL > 0 {
		checker = admin.NewCachedChecker(checker, client, cfg.Admins.CacheTTL, logger)
	}
	return checker, nil
}

func buildPublisher(cfg *config.Config, client *redis.Client, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case config.EventsDriverRabbitMQ:
		publisher, err := events.NewRabbitMQPublisher(cfg.RabbitMQ, logger)
		if err != nil {
			return nil, fmt.Errorf("create RabbitMQ publisher: %w", err)
		}
		return publisher, nil
	case config.EventsDriverRedis:
		if client == nil {
			return nil, fmt.Errorf("redis events driver needs redis enabled")
		}
		return events.NewRedisPublisher(client, cfg.Events.Channel, logger), nil
	default:
		return events.NopPublisher{}, nil
	}
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
