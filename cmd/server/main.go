package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stocky/backend/internal/cache"
	"stocky/backend/internal/config"
	"stocky/backend/internal/events"
	"stocky/backend/internal/feed"
	"stocky/backend/internal/httpapi"
	"stocky/backend/internal/insights"
	"stocky/backend/internal/service"
	"stocky/backend/internal/store"
	"stocky/backend/internal/store/memory"
	pgstore "stocky/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid LOG_LEVEL: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	if err := validateBrokerConfig(cfg); err != nil {
		logger.Fatal("invalid broker configuration", zap.Error(err))
	}
	location, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid REPORT_TIMEZONE", zap.String("timezone", cfg.ReportTimezone), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	hub := feed.NewHub(64, logger.Named("feed"))
	publishers := events.Multi{}

	cacheStore := cache.Cache(cache.Noop{})
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using noop cache and local feed", zap.Error(err))
			_ = client.Close()
			publishers = append(publishers, hub)
		} else {
			cacheStore = cache.NewRedisCache(client)
			closers = append(closers, client.Close)
			// every instance, this one included, receives events through the bridge
			publishers = append(publishers, events.NewRedisPublisher(client))
			bridge := feed.NewRedisBridge(client, hub, logger.Named("feed"))
			go func() {
				if err := bridge.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("feed bridge stopped", zap.Error(err))
				}
			}()
			logger.Info("cache: redis")
		}
	} else {
		publishers = append(publishers, hub)
		logger.Info("cache: noop")
	}

	switch cfg.EventBroker {
	case config.BrokerKafka:
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publishers = append(publishers, kafka)
		closers = append(closers, kafka.Close)
		logger.Info("event broker: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	case config.BrokerRabbitMQ:
		amqp, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("rabbitmq unavailable", zap.Error(err))
		}
		publishers = append(publishers, amqp)
		closers = append(closers, amqp.Close)
		logger.Info("event broker: rabbitmq", zap.String("exchange", cfg.AMQPExchange))
	}

	reports := insights.NewEngine(cacheStore, time.Duration(cfg.ReportCacheTTLSeconds)*time.Second, location)
	svc := service.New(repo, cacheStore, reports, publishers, logger).
		WithCatalogTTL(time.Duration(cfg.CatalogCacheTTLSeconds) * time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, hub, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("stocky backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	stopRun()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomic
	return cfg.Build()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

func validateBrokerConfig(cfg config.Config) error {
	switch cfg.EventBroker {
	case config.BrokerNone, "":
		return nil
	case config.BrokerKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must be set when EVENT_BROKER=kafka")
		}
	case config.BrokerRabbitMQ:
		if cfg.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL must be set when EVENT_BROKER=rabbitmq")
		}
	default:
		return fmt.Errorf("unknown EVENT_BROKER %q", cfg.EventBroker)
	}
	return nil
}
