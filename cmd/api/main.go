package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/ec-storefront/internal/api"
	"github.com/example/ec-storefront/internal/api/middleware"
	"github.com/example/ec-storefront/internal/auth"
	"github.com/example/ec-storefront/internal/command"
	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/domain/shipping"
	"github.com/example/ec-storefront/internal/events"
	"github.com/example/ec-storefront/internal/infrastructure/basket"
	"github.com/example/ec-storefront/internal/infrastructure/kafka"
	"github.com/example/ec-storefront/internal/infrastructure/rabbitmq"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/example/ec-storefront/internal/infrastructure/stripe"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/query"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Config errors are reported before the configured logger exists.
	boot, _ := zap.NewProduction()
	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("load config", zap.Error(err))
	}
	if err := cfg.ValidateAPI(); err != nil {
		boot.Fatal("invalid config", zap.Error(err))
	}

	base, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer base.Sync()
	logger := base.Named("api")

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting storefront API",
		zap.String("store", cfg.StoreDriver),
		zap.String("event_bus", cfg.EventBus),
		zap.String("addr", cfg.Addr()))

	uow, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	baskets := basket.NewRedisStore(rdb, cfg.BasketTTL)

	publisher, closeBus, err := openEventBus(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus.Close()

	rates, err := shipping.ParseFlatRates(cfg.ShippingRates, cfg.FreeShippingThreshold)
	if err != nil {
		return err
	}

	gateway := stripe.NewGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, logger.Named("stripe"))

	cmdHandler := command.NewHandler(uow, baskets, gateway, rates, publisher,
		command.WithRewardRate(cfg.RewardRate),
		command.WithLogger(logger.Named("command")))
	queryHandler := query.NewHandler(uow, baskets, logger.Named("query"))

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	router := api.NewRouter(api.NewHandlers(cmdHandler, queryHandler, gateway, logger), api.RouterConfig{
		Tokens:     auth.NewTokenService(cfg.JWTSecret, 15*time.Minute, auth.WithIssuer(cfg.JWTIssuer), auth.WithLeeway(30*time.Second)),
		Limiter:    limiter,
		Logger:     logger.Named("http"),
		TrustProxy: cfg.TrustProxy,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	}()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", cfg.Addr()))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	err = server.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.UnitOfWork, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("connected to PostgreSQL")
	return store.NewPostgresStore(db, logger.Named("store")), func() { db.Close() }, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openEventBus(cfg *config.Config, logger *zap.Logger) (events.Publisher, io.Closer, error) {
	switch cfg.EventBus {
	case "kafka":
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("publishing events to Kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		return producer, producer, nil
	case "rabbitmq":
		conn, ch, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("publishing events to RabbitMQ", zap.String("exchange", cfg.RabbitMQExchange))
		return rabbitmq.NewPublisher(ch, cfg.RabbitMQExchange), closerFunc(func() error {
			ch.Close()
			return conn.Close()
		}), nil
	default:
		logger.Warn("event bus disabled; notifications will not be sent")
		return events.Discard{}, closerFunc(func() error { return nil }), nil
	}
}
