package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookery/bookery-service/config"
	"github.com/bookery/bookery-service/internal/catalog"
	"github.com/bookery/bookery-service/internal/handler"
	"github.com/bookery/bookery-service/internal/repository"
	"github.com/bookery/bookery-service/internal/server"
	"github.com/bookery/bookery-service/internal/service"
	"github.com/bookery/bookery-service/migrations"
	"github.com/bookery/bookery-service/pkg/kafka"
	"github.com/bookery/bookery-service/pkg/logger"
	"github.com/bookery/bookery-service/pkg/postgres"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

func Run(cfg *config.Config) {
	log := logger.NewLogger(cfg.Log, "bookery")
	db, err := postgres.NewPostgresDB(context.Background(), &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		log.Fatal("db init", zap.Error(err))
	}
	repo, err := repository.NewRepository(db, log)
	if err != nil {
		log.Fatal("repo", zap.Error(err))
	}

	catalogClient := catalog.NewClient(log, cfg.Catalog)
	bookCache := catalog.NewCache(log, catalogClient, cfg.CacheCapacity)

	var producer sarama.SyncProducer
	if cfg.Kafka.Enabled() {
		if producer, err = kafka.NewProducer(cfg.Kafka); err != nil {
			log.Fatal("kafka.NewProducer", zap.Error(err))
		}
	}

	svc := service.NewService(repo, bookCache, producer, log)

	consumeCtx, stopConsume := context.WithCancel(context.Background())
	defer stopConsume()
	if cfg.Kafka.Enabled() {
		consumer, err := kafka.NewConsumer(cfg.Kafka, kafka.ReviewConsumerGroup)
		if err != nil {
			log.Fatal("kafka.NewConsumer", zap.Error(err))
		}
		warm := func(ctx context.Context, catalogID string) {
			bookCache.GetOrFetch(ctx, catalogID)
		}
		go kafka.Consume(consumeCtx, consumer, handler.NewConsumer(warm, log), kafka.ReviewEventsTopic, log)
	}

	h := handler.New(svc, catalogClient, log)
	srv := server.NewServer(cfg.Server, h.NewRouter())
	log.Info("http server start ON: ",
		zap.String("addr",
			net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("server run", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err = srv.Stop(closeCtx); err != nil {
		log.DPanic("srv.Stop", zap.Error(err))
	}
	stopConsume()
	if producer != nil {
		if err = producer.Close(); err != nil {
			log.Error("producer.Close", zap.Error(err))
		}
	}
	db.Close()
	log.Info("Graceful shutdown finished")
}
