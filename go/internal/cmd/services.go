package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/clients"
	"github.com/zwl098/yusic/go/internal/gateway"
	"github.com/zwl098/yusic/go/internal/membership"
	"github.com/zwl098/yusic/go/internal/playlist"
	"github.com/zwl098/yusic/go/internal/relay"
	"github.com/zwl098/yusic/go/internal/room"
	"github.com/zwl098/yusic/go/internal/roomsync"
)

type Services struct {
	Gateway   *gateway.Service
	Rooms     *roomsync.Handler
	Playlists *playlist.App
	Registry  *room.Registry

	fileStore *playlist.FileStore // set when playlists live in a file
	closers   []func() error
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → App → Handler → Gateway; the connection manager is the
	// broadcaster every app delivers through.
	clock := clockwork.NewRealClock()
	services := &Services{}

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), clock)

	registryConfig := room.DefaultRegistryConfig()
	registryConfig.ExpiryWindow = config.Rooms.ExpiryWindow
	registry := room.NewRegistry(clock, registryConfig)
	services.Registry = registry
	services.closers = append(services.closers, func() error { registry.Close(); return nil })

	roomApp := room.NewApp(registry, clock, cm)
	tracker := membership.NewTracker(registry, cm, clock)

	publisher, err := setupPublisher(ctx, config)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.closers = append(services.closers, publisher.Close)

	store, err := services.setupPlaylistStore(ctx, config)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.Playlists = playlist.NewApp(store, cm, clock)

	catalog := clients.NewCatalogClient(config.Catalog.URL)

	handlerConfig := roomsync.DefaultConfig()
	handlerConfig.CatalogTimeout = config.Rooms.CatalogTimeout
	services.Rooms = roomsync.NewHandler(roomApp, tracker, publisher, catalog, services.Playlists, handlerConfig)

	services.Gateway = gateway.NewService(cm, services.Rooms, catalog)
	return services, nil
}

func setupPublisher(ctx context.Context, config *Config) (relay.Publisher, error) {
	if !config.Relay.Enabled {
		log.Info().Msg("event relay disabled")
		return relay.NoopPublisher{}, nil
	}

	jsConfig := relay.DefaultJetStreamConfig()
	jsConfig.URL = config.Relay.NATSURL
	jsConfig.StreamName = config.Relay.StreamName
	jsConfig.SubjectPrefix = config.Relay.SubjectPrefix

	publisher, err := relay.NewJetStreamPublisher(ctx, jsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event relay: %w", err)
	}
	log.Info().Str("nats_url", jsConfig.URL).Str("stream", jsConfig.StreamName).Msg("event relay enabled")
	return publisher, nil
}

func (s *Services) setupPlaylistStore(ctx context.Context, config *Config) (playlist.Store, error) {
	switch config.Playlists.Store {
	case StorePostgres:
		database, err := setupDatabase(ctx)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, database.Close)
		return migratedPostgresStore(ctx, database)

	case StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: config.Playlists.RedisAddr})
		s.closers = append(s.closers, client.Close)
		store := playlist.NewRedisStore(client, config.Playlists.RedisKey)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info().Str("addr", config.Playlists.RedisAddr).Msg("playlists stored in redis")
		return store, nil

	default:
		s.fileStore = playlist.NewFileStore(config.Playlists.Path)
		log.Info().Str("path", config.Playlists.Path).Msg("playlists stored in file")
		return s.fileStore, nil
	}
}

func migratedPostgresStore(ctx context.Context, database *sql.DB) (*playlist.PostgresStore, error) {
	store := playlist.NewPostgresStore(database)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate playlist schema: %w", err)
	}
	log.Info().Msg("playlists stored in postgres")
	return store, nil
}

// Start runs the background loops until ctx is cancelled
func (s *Services) Start(ctx context.Context, config *Config) {
	go func() {
		if err := s.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("room gateway failed")
		}
	}()

	if s.fileStore != nil && config.Playlists.Watch {
		go func() {
			if err := s.Playlists.Watch(ctx, s.fileStore); err != nil {
				log.Error().Err(err).Msg("playlist watcher stopped")
			}
		}()
	}
}

// Close releases everything setupServices opened, newest first
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
