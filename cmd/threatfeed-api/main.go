package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/hive-corporation/threatfeed/internal/adapter/handler"
	"github.com/hive-corporation/threatfeed/internal/adapter/notifier"
	"github.com/hive-corporation/threatfeed/internal/bootstrap"
	"github.com/hive-corporation/threatfeed/internal/config"
	"github.com/hive-corporation/threatfeed/internal/core/feed"
	"github.com/hive-corporation/threatfeed/internal/core/service"
	"github.com/hive-corporation/threatfeed/internal/logging"
	"github.com/hive-corporation/threatfeed/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "", "Path to the config file")
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("threatfeed api stopped", zap.Error(err))
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		logger.Info("snapshot archive enabled")
	case archive != nil:
		logger.Info("snapshot archive is the feed source, snapshots will not be re-archived")
	default:
		logger.Warn("snapshot archive disabled (no database.url)")
	}
	if cfg.SlackBotToken != "" {
		opts = append(opts, service.WithNotifier(
			notifier.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, cfg.SlackMentionTeam),
		))
		logger.Info("slack notifier enabled", zap.String("channel", cfg.SlackChannel))
	} else {
		logger.Warn("slack notifier disabled (no slack.bot_token)")
	}
	refresher := service.NewRefresher(store, gateway, cfg.Feed.RefreshInterval, opts...)

	restHandler := handler.NewRestHandler(store, logger)
	if archive != nil {
		restHandler.WithHistory(archive)
	}
	router := handler.NewRouter(
		restHandler,
		handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger,
	)
	restServer := &http.Server{
		Addr:         cfg.RESTAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(logger)))
	handler.RegisterFeedServiceServer(grpcServer, handler.NewGrpcServer(store))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("feed refresher started",
			zap.String("gateway", gateway.Name()),
			zap.Duration("interval", cfg.Feed.RefreshInterval),
		)
		return refresher.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("REST API listening", zap.String("addr", cfg.RESTAddr))
		if err := restServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rest server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return restServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
