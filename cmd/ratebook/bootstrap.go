package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ratebook/internal/adapters/driven/config/file"
	"github.com/custodia-labs/ratebook/internal/adapters/driven/events"
	"github.com/custodia-labs/ratebook/internal/adapters/driven/locks"
	"github.com/custodia-labs/ratebook/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ratebook/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/ratebook/internal/adapters/driving/cli"
	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
	"github.com/custodia-labs/ratebook/internal/core/services"
	"github.com/custodia-labs/ratebook/internal/logger"
	"github.com/custodia-labs/ratebook/internal/metrics"
)

const (
	redisDialTimeout = 3 * time.Second
	lockKeyPrefix    = "ratebook:lock:"
)

// bootstrap reads settings from configDir and builds the services the
// configured backends call for.
func bootstrap(configDir string) (*cli.Services, func() error, error) {
	configStore, err := file.NewConfigStore(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore)
	if err := settingsService.Validate(); err != nil {
		logger.Warn("invalid settings, falling back to defaults: %v", err)
	}
	settings, err := settingsService.Get()
	if err != nil {
		return nil, nil, err
	}

	r := &resources{clients: map[string]*redis.Client{}}
	built, err := r.build(settings)
	if err != nil {
		_ = r.close()
		return nil, nil, err
	}
	built.Settings = settingsService
	return built, r.close, nil
}

// resources tracks what bootstrap opened so it can be released.
type resources struct {
	closers []func() error
	clients map[string]*redis.Client
}

func (r *resources) build(settings *domain.AppSettings) (*cli.Services, error) {
	store, err := r.store(settings.Storage)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	opts := []services.Option{
		services.WithMetrics(collector),
		services.WithRequiredRoles(settings.Approval.RequiredRoles...),
	}
	out := &cli.Services{Metrics: collector.Handler()}

	switch settings.Events.Backend {
	case domain.EventsMemory, domain.EventsRedis:
		bus := events.NewBus()
		publishers := events.Fanout{bus}
		out.Subscribe = func(handler func(domain.Event)) func() {
			return bus.SubscribeAll(handler)
		}
		if settings.Events.Backend == domain.EventsRedis {
			client, err := r.redis(settings.Events.RedisAddr)
			if err != nil {
				return nil, fmt.Errorf("events: %w", err)
			}
			channel := settings.Events.Channel
			publishers = append(publishers, events.NewRedisPublisher(client, channel))
			out.Listen = func(ctx context.Context, handler func(domain.Event)) error {
				return events.Listen(ctx, client, channel, handler)
			}
		}
		opts = append(opts, services.WithEventPublisher(publishers))
	default:
		logger.Debug("events disabled")
	}

	var locker driven.Locker = locks.NewMemoryLocker()
	if settings.Locks.Backend == domain.LockRedis {
		client, err := r.redis(settings.Locks.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("locks: %w", err)
		}
		locker = locks.NewRedisLocker(client, lockKeyPrefix)
	}
	opts = append(opts, services.WithLocker(locker, settings.Locks.TTL))

	resolver := services.NewTableResolver()
	out.Versions = services.NewVersionService(store, opts...)
	out.ChangeSets = services.NewChangeSetService(store, opts...)
	out.Rating = services.NewRatingService(services.NewRatingEngine(resolver), store, collector, settings.Rating.Parallelism)
	return out, nil
}

func (r *resources) store(settings domain.StorageSettings) (driven.Store, error) {
	if settings.Backend != domain.StorageSQLite {
		logger.Debug("using memory storage; nothing is kept after exit")
		return memory.NewStore(), nil
	}
	store, err := sqlite.NewStore(settings.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	logger.Debug("using sqlite storage at %s", store.Path())
	r.closers = append(r.closers, store.Close)
	return store, nil
}

// redis returns one client per address and checks it is reachable.
func (r *resources) redis(addr string) (*redis.Client, error) {
	if client, ok := r.clients[addr]; ok {
		return client, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: redisDialTimeout})
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	r.clients[addr] = client
	r.closers = append(r.closers, client.Close)
	return client, nil
}

func (r *resources) close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
