package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ticketflow-cli/config"
	"ticketflow-cli/service"
)

const dbConnectAttempts = 5

// backend bundles the configured seat source and change stream. client is
// only set when the source talks HTTP.
type backend struct {
	source  service.SeatSource
	stream  service.ChangeStream
	client  *service.Client
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	// The SSE stream rides on the HTTP client even when seats come from
	// Postgres.
	if cfg.Source == "http" || cfg.Stream == "sse" {
		b.client = service.NewClient(cfg.APIURL, nil)
		b.client.SetLogger(logger)
		if cfg.Token != "" {
			b.client.SetToken(cfg.Token)
		}
	}

	switch cfg.Source {
	case "http":
		b.source = b.client
	case "postgres":
		db, err := openDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		b.source = service.NewPostgresSource(db, logger)
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}

	switch cfg.Stream {
	case "sse":
		b.stream = service.NewSSEStream(b.client)
	case "postgres":
		b.stream = service.NewPostgresStream(cfg.DatabaseURL, logger)
	case "redis":
		rdb := newRedis(cfg.Redis)
		b.closers = append(b.closers, rdb.Close)
		b.stream = service.NewRedisStream(rdb, logger)
	default:
		_ = b.Close()
		return nil, fmt.Errorf("unknown stream %q", cfg.Stream)
	}
	return b, nil
}

func openDB(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database_url is not set")
	}
	return service.OpenPostgres(ctx, cfg.DatabaseURL, dbConnectAttempts, logger)
}

func newRedis(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
