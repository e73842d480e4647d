package server

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mihaimyh/toxbook/internal/config"
	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/logging"
	storefirestore "github.com/mihaimyh/toxbook/storage/firestore"
	"github.com/mihaimyh/toxbook/storage/memory"
	"github.com/mihaimyh/toxbook/storage/postgres"
	storeredis "github.com/mihaimyh/toxbook/storage/redis"
	"github.com/mihaimyh/toxbook/storage/tiered"
)

// customerStore is the selected backend together with its lifecycle hooks.
type customerStore struct {
	billing.CustomerStore
	ping  func(ctx context.Context) error
	close []func()
}

func (s *customerStore) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *customerStore) Close() {
	for i := len(s.close) - 1; i >= 0; i-- {
		s.close[i]()
	}
}

// newCustomerStore builds the customer link store named by STORAGE_BACKEND.
func newCustomerStore(ctx context.Context, cfg config.StorageConfig, logger logging.Logger) (*customerStore, error) {
	switch cfg.Backend {
	case config.StorageMemory, "":
		return &customerStore{CustomerStore: memory.New()}, nil

	case config.StoragePostgres:
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &customerStore{CustomerStore: pg, ping: pg.Ping, close: []func(){pg.Close}}, nil

	case config.StorageRedis:
		rs, client, err := openRedis(cfg)
		if err != nil {
			return nil, err
		}
		return &customerStore{CustomerStore: rs, ping: rs.Ping, close: []func(){func() { _ = client.Close() }}}, nil

	case config.StorageFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		fs, err := storefirestore.New(client, storefirestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &customerStore{CustomerStore: fs, close: []func(){func() { _ = client.Close() }}}, nil

	case config.StorageTiered:
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rs, client, err := openRedis(cfg)
		if err != nil {
			pg.Close()
			return nil, err
		}
		ts, err := tiered.New(tiered.Config{
			Hot:           rs,
			Cold:          pg,
			AsyncBackfill: cfg.TieredAsync,
			AsyncErrorHandler: func(err error) {
				logger.Warn("customer link cache write failed", logging.F("error", err))
			},
		})
		if err != nil {
			_ = client.Close()
			pg.Close()
			return nil, err
		}
		return &customerStore{
			CustomerStore: ts,
			ping:          pg.Ping,
			close: []func(){
				pg.Close,
				func() { _ = client.Close() },
				func() { _ = ts.Close() },
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func openPostgres(ctx context.Context, cfg config.StorageConfig) (*postgres.Storage, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.ConnectionString = cfg.PostgresDSN
	pgCfg.MaxConns = cfg.PostgresMaxConns
	pgCfg.MinConns = cfg.PostgresMinConns
	return postgres.New(ctx, pgCfg)
}

func openRedis(cfg config.StorageConfig) (*storeredis.Storage, *goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rs, err := storeredis.New(client, storeredis.Config{LinkTTL: cfg.RedisTTL})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return rs, client, nil
}
