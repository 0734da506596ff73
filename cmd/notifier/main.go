package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/email"
	"github.com/example/ec-storefront/internal/events"
	"github.com/example/ec-storefront/internal/infrastructure/kafka"
	"github.com/example/ec-storefront/internal/infrastructure/rabbitmq"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/notification"
	"go.uber.org/zap"
)

func main() {
	boot, _ := zap.NewProduction()
	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("load config", zap.Error(err))
	}

	base, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer base.Sync()
	logger := base.Named("notifier")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	handler := notification.NewHandler(emailSvc, logger)

	logger.Info("starting e-mail notifier",
		zap.String("event_bus", cfg.EventBus),
		zap.String("smtp", cfg.SMTPHost+":"+cfg.SMTPPort))

	if err := consume(ctx, cfg, logger, handler.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
	}
	logger.Info("shutting down")
}

// consume reads order events from whichever bus the API publishes to.
func consume(ctx context.Context, cfg *config.Config, logger *zap.Logger, handle events.Handler) error {
	switch cfg.EventBus {
	case "kafka":
		logger.Info("consuming from Kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
			zap.String("group", cfg.KafkaGroupID))
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, logger.Named("kafka"))
		defer consumer.Close()
		return consumer.Consume(ctx, handle)
	case "rabbitmq":
		conn, ch, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer ch.Close()
		logger.Info("consuming from RabbitMQ",
			zap.String("exchange", cfg.RabbitMQExchange),
			zap.String("queue", cfg.RabbitMQQueue))
		return rabbitmq.NewConsumer(ch, cfg.RabbitMQExchange, cfg.RabbitMQQueue, logger.Named("rabbitmq")).Consume(ctx, handle)
	default:
		logger.Warn("event bus disabled; nothing to consume")
		<-ctx.Done()
		return ctx.Err()
	}
}
