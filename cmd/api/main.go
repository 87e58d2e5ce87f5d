//	@title			Media Upload API
//	@version		1.0
//	@description	Stores uploaded files and compresses images and videos in the background.
//
//	@host		localhost:8000
//	@BasePath	/

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediavault/service/internal/app"
	"github.com/mediavault/service/internal/config"
	"github.com/mediavault/service/internal/jobs"
	"github.com/mediavault/service/internal/logger"
	"github.com/mediavault/service/internal/server"
	"github.com/mediavault/service/internal/upload"

	_ "github.com/mediavault/service/docs/swagger"
)

func main() {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	components, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	// Wire dependencies: dispatcher → service → handler
	var (
		svc        *upload.Service
		dispatcher jobs.Dispatcher
		pool       *jobs.Pool
	)
	switch cfg.QueueBackend {
	case config.QueueAMQP:
		mq, err := jobs.DialRabbitMQ(cfg.RabbitMQURL, cfg.QueueName, logger.WithComponent(log, "rabbitmq"))
		if err != nil {
			log.Error("queue connection failed", "error", err)
			os.Exit(1)
		}
		defer mq.Close()
		dispatcher = mq
	case config.QueueMemory:
		pool = jobs.NewPool(jobs.PoolConfig{
			Handler:   func(ctx context.Context, job jobs.Job) error { return svc.ProcessJob(ctx, job) },
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			Timeout:   cfg.JobTimeout,
			Logger:    logger.WithComponent(log, "jobs"),
		})
		dispatcher = pool
	}

	svc = upload.NewService(upload.Options{
		Store:      components.Store,
		Dispatcher: dispatcher,
		Compressor: components.Compressor,
		Mirror:     components.Mirror,
		Ledger:     components.Ledger,
		Logger:     logger.WithComponent(log, "upload"),
	})
	if pool != nil {
		pool.Start()
	}

	router := server.NewRouter(server.Options{
		APIKey:    cfg.APIKey,
		StaticDir: cfg.StaticDir,
		UploadDir: cfg.UploadDir,
		Uploads:   upload.NewHandler(svc, logger.WithComponent(log, "http")),
		Logger:    logger.WithComponent(log, "http"),
	})
	if cfg.APIKey == "" {
		log.Warn("KEY is not set; all uploads will be rejected")
	}

	// Uploads stream arbitrarily large bodies, so only headers are time-bounded.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("server listening", "port", cfg.Port, "env", cfg.AppEnv, "queue", cfg.QueueBackend)
		log.Info("swagger UI available", "url", cfg.BaseURL+"/swagger/")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	if pool != nil {
		if err := pool.Shutdown(shutdownCtx); err != nil {
			log.Warn("background jobs cancelled", "error", err)
		}
	}

	log.Info("server stopped")
}
