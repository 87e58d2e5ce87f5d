// Package app wires the components shared by the API server and the queue worker.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediavault/service/internal/config"
	"github.com/mediavault/service/internal/db"
	"github.com/mediavault/service/internal/logger"
	"github.com/mediavault/service/internal/media"
	"github.com/mediavault/service/internal/storage"
	"github.com/mediavault/service/internal/upload"
)

// Components are the long-lived dependencies of the upload service.
type Components struct {
	Store      *storage.LocalStorage
	Compressor *media.Compressor
	Mirror     storage.Mirror
	Ledger     upload.Ledger

	pool *pgxpool.Pool
}

// Build creates local storage and the compressor, plus the ledger and the
// object-storage mirror when they are configured.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Components, error) {
	store, err := storage.NewLocalStorage(cfg.UploadDir, cfg.BaseURL+"/uploads")
	if err != nil {
		return nil, fmt.Errorf("upload storage init failed: %w", err)
	}

	c := &Components{
		Store: store,
		Compressor: media.NewCompressor(
			media.NewImageEncoder(),
			media.NewVideoEncoder(cfg.FFmpegPath, "", logger.WithComponent(log, "ffmpeg")),
		),
	}

	if cfg.LedgerEnabled() {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := db.Migrate(cfg.DatabaseURL, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		c.pool = pool
		c.Ledger = upload.NewRepository(pool)
	}

	if cfg.MirrorEnabled() {
		mirror, err := storage.NewMinioMirror(ctx, storage.MinioConfig{
			Endpoint:   cfg.StorageEndpoint,
			AccessKey:  cfg.StorageAccessKey,
			SecretKey:  cfg.StorageSecretKey,
			Bucket:     cfg.StorageBucket,
			PublicBase: cfg.StoragePublicBase,
			UseSSL:     cfg.StorageUseSSL,
		}, logger.WithComponent(log, "mirror"))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("object storage init failed: %w", err)
		}
		c.Mirror = mirror
	}

	return c, nil
}

// Close releases the database pool, if any.
func (c *Components) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
