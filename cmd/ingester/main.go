package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/threatfeed/internal/adapter/notifier"
	"github.com/hive-corporation/threatfeed/internal/bootstrap"
	"github.com/hive-corporation/threatfeed/internal/config"
	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/feed"
	"github.com/hive-corporation/threatfeed/internal/core/service"
	"github.com/hive-corporation/threatfeed/internal/logging"
	"github.com/hive-corporation/threatfeed/internal/metrics"
)

// The ingester runs one ingestion against the configured gateway, archives
// the snapshot and exits. It is meant for cron jobs and backfills.
func main() {
	configFile := flag.String("config", "", "Path to the config file")
	notify := flag.Bool("notify", false, "Announce critical threats on Slack")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *notify, logger); err != nil {
		logger.Error("ingestion failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, notify bool, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Feed.IngestTimeout+time.Minute)
	defer cancel()

	metrics.InitMetrics()

	archive, closeArchive, err := bootstrap.Archive(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeArchive()

	gateway, closeGateway, err := bootstrap.Gateway(cfg, archive, logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	store := feed.NewStore(
		feed.WithIngestTimeout(cfg.Feed.IngestTimeout),
		feed.WithLogger(logger),
	)

	opts := []service.RefresherOption{service.WithRefresherLogger(logger)}
	switch a := bootstrap.RefresherArchive(cfg, archive); {
	case a != nil:
		opts = append(opts, service.WithArchive(a))
	case archive != nil:
		logger.Info("feed source is the archive, snapshot will not be re-archived")
	default:
		logger.Warn("no database.url, snapshot will not be archived")
	}
	if notify && cfg.SlackBotToken != "" {
		opts = append(opts, service.WithNotifier(
			notifier.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, cfg.SlackMentionTeam),
		))
	}

	logger.Info("downloading feed", zap.String("gateway", gateway.Name()))

	snap, err := service.NewRefresher(store, gateway, 0, opts...).RefreshOnce(ctx)
	if err != nil {
		return err
	}

	byRisk := snap.CountByRisk()
	logger.Info("ingestion finished",
		zap.String("snapshot_id", snap.ID),
		zap.Int("records", snap.Len()),
		zap.Int("critical", byRisk[domain.Critical]),
		zap.Int("high", byRisk[domain.High]),
		zap.Int("medium", byRisk[domain.Medium]),
		zap.Int("low", byRisk[domain.Low]),
		zap.Strings("discrepancies", snap.Summary.Discrepancies),
	)
	return nil
}
