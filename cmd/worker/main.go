// Command worker consumes compression and mirror jobs from RabbitMQ. It is
// used when the API runs with QUEUE_BACKEND=amqp.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediavault/service/internal/app"
	"github.com/mediavault/service/internal/config"
	"github.com/mediavault/service/internal/jobs"
	"github.com/mediavault/service/internal/logger"
	"github.com/mediavault/service/internal/upload"
)

func main() {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	mq, err := jobs.DialRabbitMQ(cfg.RabbitMQURL, cfg.QueueName, logger.WithComponent(log, "rabbitmq"))
	if err != nil {
		log.Error("queue connection failed", "error", err)
		os.Exit(1)
	}
	defer mq.Close()

	svc := upload.NewService(upload.Options{
		Store:      components.Store,
		Dispatcher: mq,
		Compressor: components.Compressor,
		Mirror:     components.Mirror,
		Ledger:     components.Ledger,
		Logger:     logger.WithComponent(log, "upload"),
	})

	err = mq.Consume(ctx, jobs.ConsumeConfig{
		Handler: svc.ProcessJob,
		Workers: cfg.Workers,
		Timeout: cfg.JobTimeout,
	})
	if err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
