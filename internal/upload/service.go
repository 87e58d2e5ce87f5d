package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mediavault/service/internal/jobs"
	"github.com/mediavault/service/internal/media"
	"github.com/mediavault/service/internal/storage"
)

// Input is one inbound upload.
type Input struct {
	FileName string
	Body     io.Reader
	SubPath  string
	// CompressionLevel is nil when no compression was requested.
	CompressionLevel *int
}

// Result describes where an upload was stored and whether compression was scheduled.
type Result struct {
	Filename           string `json:"filename"`
	StoredPath         string `json:"stored_path"`
	CompressionStarted bool   `json:"compression_started"`
	CompressedPath     string `json:"compressed_path,omitempty"`
}

// Options wires a Service. Dispatcher is required for uploads; Compressor is
// required for processing compress jobs. Mirror and Ledger are optional.
type Options struct {
	Store      *storage.LocalStorage
	Dispatcher jobs.Dispatcher
	Compressor *media.Compressor
	Mirror     storage.Mirror
	Ledger     Ledger
	Logger     *slog.Logger
}

// Service contains the upload pipeline: store synchronously, compress later.
type Service struct {
	store      *storage.LocalStorage
	dispatcher jobs.Dispatcher
	compressor *media.Compressor
	mirror     storage.Mirror
	ledger     Ledger
	logger     *slog.Logger
}

// NewService creates a new upload Service.
func NewService(opts Options) *Service {
	ledger := opts.Ledger
	if ledger == nil {
		ledger = nopLedger{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		compressor: opts.Compressor,
		mirror:     opts.Mirror,
		ledger:     ledger,
		logger:     logger,
	}
}

// Upload writes in.Body to a unique file and, when a compression level is
// given for a supported media type, schedules compression. The file is fully
// on disk before Upload returns; compression finishes later, if at all.
func (s *Service) Upload(ctx context.Context, in Input) (*Result, error) {
	stored, err := s.store.Resolve(in.SubPath, in.FileName)
	if err != nil {
		return nil, fmt.Errorf("resolve upload path: %w", err)
	}
	size, err := s.store.Write(ctx, stored, in.Body)
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	rec := &Record{
		ID:                uuid.NewString(),
		Filename:          in.FileName,
		StoredKey:         stored.Key,
		SizeBytes:         size,
		CompressionStatus: StatusNone,
	}
	res := &Result{
		Filename:   in.FileName,
		StoredPath: s.store.PublicURL(stored.Key),
	}
	logger := s.logger.With("upload_id", rec.ID, "key", stored.Key)
	logger.Info("upload stored", "size", size)

	var compressJob *jobs.Job
	if in.CompressionLevel != nil {
		if kind, ok := media.DetectKind(in.FileName); ok {
			derived, err := s.store.ResolveDerived(stored, in.FileName)
			if err != nil {
				logger.Error("resolve compressed path", "error", err)
			} else {
				job := jobs.NewCompressionJob(rec.ID, stored, derived, kind, *in.CompressionLevel)
				compressJob = &job
				rec.CompressedKey = &derived.Key
				rec.CompressionStatus = StatusPending
			}
		}
	}

	if err := s.ledger.Create(ctx, rec); err != nil {
		logger.Error("record upload", "error", err)
	}

	if compressJob != nil {
		if err := s.dispatcher.Dispatch(ctx, *compressJob); err != nil {
			logger.Warn("compression not scheduled", "job_id", compressJob.ID, "error", err)
			s.setStatus(ctx, rec.ID, StatusFailed, fmt.Sprintf("dispatch: %v", err))
		} else {
			res.CompressionStarted = true
			res.CompressedPath = s.store.PublicURL(compressJob.TargetKey)
			logger.Info("compression scheduled", "job_id", compressJob.ID, "kind", compressJob.Kind, "level", compressJob.Parameter)
		}
	}

	if s.mirror != nil {
		if err := s.dispatcher.Dispatch(ctx, jobs.NewMirrorJob(rec.ID, stored)); err != nil {
			logger.Warn("mirror not scheduled", "error", err)
		}
	}

	return res, nil
}

// ProcessJob executes a background job. It is the jobs.Handler for both the
// in-process pool and the RabbitMQ consumer.
func (s *Service) ProcessJob(ctx context.Context, job jobs.Job) error {
	switch job.Action {
	case jobs.ActionCompress:
		return s.compress(ctx, job)
	case jobs.ActionMirror:
		return s.mirrorFile(ctx, job.SourceKey, job.SourcePath)
	default:
		return fmt.Errorf("unknown job action %q", job.Action)
	}
}

func (s *Service) compress(ctx context.Context, job jobs.Job) error {
	if s.compressor == nil {
		return errors.New("no compressor configured")
	}
	if err := s.compressor.Compress(ctx, job.Kind, job.SourcePath, job.TargetPath, job.Parameter); err != nil {
		s.setStatus(ctx, job.UploadID, StatusFailed, err.Error())
		return fmt.Errorf("compress %s: %w", job.SourceKey, err)
	}
	s.setStatus(ctx, job.UploadID, StatusDone, "")
	s.logger.Info("compression finished", "job_id", job.ID, "upload_id", job.UploadID, "key", job.TargetKey)

	if s.mirror != nil {
		return s.mirrorFile(ctx, job.TargetKey, job.TargetPath)
	}
	return nil
}

func (s *Service) mirrorFile(ctx context.Context, key, path string) error {
	if s.mirror == nil {
		return errors.New("no mirror configured")
	}
	url, err := s.mirror.Mirror(ctx, key, path)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	s.logger.Info("file mirrored", "key", key, "url", url)
	return nil
}

// setStatus updates the ledger from paths where a failure must not abort the caller.
func (s *Service) setStatus(ctx context.Context, id, status, message string) {
	if err := s.ledger.SetCompressionStatus(context.WithoutCancel(ctx), id, status, message); err != nil {
		s.logger.Error("update compression status", "upload_id", id, "status", status, "error", err)
	}
}
