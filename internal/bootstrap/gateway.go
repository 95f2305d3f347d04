// Package bootstrap builds the adapters the commands share from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatfeed/internal/adapter/provider"
	"github.com/hive-corporation/threatfeed/internal/adapter/repository"
	"github.com/hive-corporation/threatfeed/internal/config"
	"github.com/hive-corporation/threatfeed/internal/core/ports"
)

// Closer releases what a constructor opened. It is never nil.
type Closer func()

func noop() {}

// Gateway builds the feed gateway selected by feed.source. A postgres source
// reuses the archive repository when one is given.
func Gateway(cfg *config.Config, archive *repository.PostgresRepository, logger *zap.Logger) (ports.FeedGateway, Closer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Feed.Source {
	case config.SourceHTTP:
		client := provider.NewResilientClient(cfg.Resilience.RequestTimeout, ResilientClientConfig(cfg.Resilience), logger)
		return provider.NewHTTPFeedProvider(client, cfg.Feed.URL), noop, nil

	case config.SourceFile:
		return provider.NewFileFeedProvider(cfg.Feed.File), noop, nil

	case config.SourceKafka:
		p := provider.NewKafkaFeedProvider(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic, cfg.Feed.KafkaGroup)
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close kafka reader", zap.Error(err))
			}
		}, nil

	case config.SourceRedis:
		p, client, err := provider.NewRedisFeedProvider(cfg.Feed.RedisURL, cfg.Feed.RedisKey)
		if err != nil {
			return nil, noop, err
		}
		return p, func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}, nil

	case config.SourcePostgres:
		if archive == nil {
			return nil, noop, fmt.Errorf("postgres source needs database.url")
		}
		return repository.NewArchiveFeedProvider(archive), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}

// Archive connects to Postgres and prepares the archive schema. It returns a
// nil repository when no database is configured.
func Archive(ctx context.Context, databaseURL string) (*repository.PostgresRepository, Closer, error) {
	if databaseURL == "" {
		return nil, noop, nil
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, noop, fmt.Errorf("connect to database: %w", err)
	}

	repo := repository.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, noop, err
	}
	return repo, pool.Close, nil
}

// RefresherArchive returns the archive the refresher should write to, or nil.
// A postgres source replays the archive itself, so it is never written back.
func RefresherArchive(cfg *config.Config, archive *repository.PostgresRepository) ports.SnapshotArchive {
	if archive == nil || cfg.Feed.Source == config.SourcePostgres {
		return nil
	}
	return archive
}

func ResilientClientConfig(r config.ResilienceConfig) provider.ResilientClientConfig {
	return provider.ResilientClientConfig{
		EnableCircuitBreaker: r.EnableCircuitBreaker,
		MaxFailures:          r.MaxFailures,
		CircuitTimeout:       r.CircuitTimeout,
		MaxRetries:           r.MaxRetries,
		InitialInterval:      r.InitialInterval,
		MaxInterval:          r.MaxInterval,
	}
}
