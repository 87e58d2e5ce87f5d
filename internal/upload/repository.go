// Package upload stores incoming files and schedules their background compression.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compression states recorded in the ledger.
const (
	StatusNone    = "none"
	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Record is one row of the upload ledger.
type Record struct {
	ID                string
	Filename          string
	StoredKey         string
	SizeBytes         int64
	CompressedKey     *string
	CompressionStatus string
	CompressionError  *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ErrNotFound is returned when an upload record does not exist.
var ErrNotFound = errors.New("upload not found")

// Ledger records stored uploads and the outcome of their background work.
type Ledger interface {
	Create(ctx context.Context, rec *Record) error
	SetCompressionStatus(ctx context.Context, id, status, message string) error
}

// Repository is the Postgres-backed Ledger.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts rec and fills in its timestamps.
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO uploads (id, filename, stored_key, size_bytes, compressed_key, compression_status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		rec.ID, rec.Filename, rec.StoredKey, rec.SizeBytes, rec.CompressedKey, rec.CompressionStatus,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create upload record: %w", err)
	}
	return nil
}

// SetCompressionStatus updates the compression outcome of an upload. An empty
// message clears any previous error.
func (r *Repository) SetCompressionStatus(ctx context.Context, id, status, message string) error {
	var errText *string
	if message != "" {
		errText = &message
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE uploads
		 SET compression_status = $2, compression_error = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, status, errText,
	)
	if err != nil {
		return fmt.Errorf("update compression status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type nopLedger struct{}

func (nopLedger) Create(context.Context, *Record) error { return nil }

func (nopLedger) SetCompressionStatus(context.Context, string, string, string) error { return nil }
