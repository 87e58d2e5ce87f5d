// Package jobs runs background work for stored uploads after the HTTP
// response has been sent, either on an in-process bounded worker pool or
// through a RabbitMQ queue consumed by cmd/worker.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mediavault/service/internal/media"
	"github.com/mediavault/service/internal/storage"
)

// Action selects what a Job does with its source file.
type Action string

const (
	// ActionCompress writes a compressed rendition of the source to the target.
	ActionCompress Action = "compress"
	// ActionMirror replicates the source to object storage.
	ActionMirror Action = "mirror"
)

var (
	// ErrQueueFull is returned by Pool.Dispatch when no queue slot is free.
	ErrQueueFull = errors.New("job queue full")
	// ErrPoolClosed is returned by Pool.Dispatch after Shutdown.
	ErrPoolClosed = errors.New("job pool closed")
)

// Job is one unit of deferred work bound to a fully written upload.
type Job struct {
	ID         string     `json:"job_id"`
	Action     Action     `json:"action"`
	UploadID   string     `json:"upload_id"`
	SourcePath string     `json:"source_path"`
	SourceKey  string     `json:"source_key"`
	TargetPath string     `json:"target_path,omitempty"`
	TargetKey  string     `json:"target_key,omitempty"`
	Kind       media.Kind `json:"kind,omitempty"`
	// Parameter is the 1-100 compression level: JPEG quality for images,
	// bitrate/10 kbps for videos.
	Parameter int       `json:"parameter,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCompressionJob describes compressing src into dst.
func NewCompressionJob(uploadID string, src, dst storage.StoredFile, kind media.Kind, level int) Job {
	return Job{
		ID:         uuid.NewString(),
		Action:     ActionCompress,
		UploadID:   uploadID,
		SourcePath: src.Path,
		SourceKey:  src.Key,
		TargetPath: dst.Path,
		TargetKey:  dst.Key,
		Kind:       kind,
		Parameter:  level,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewMirrorJob describes replicating src to object storage.
func NewMirrorJob(uploadID string, src storage.StoredFile) Job {
	return Job{
		ID:         uuid.NewString(),
		Action:     ActionMirror,
		UploadID:   uploadID,
		SourcePath: src.Path,
		SourceKey:  src.Key,
		CreatedAt:  time.Now().UTC(),
	}
}

// Handler executes a job. Errors are terminal for the job and only logged.
type Handler func(ctx context.Context, job Job) error

// Dispatcher schedules a job without waiting for it to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}
