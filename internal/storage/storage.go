// Package storage places uploads on the local filesystem and optionally
// replicates them to an S3-compatible bucket. The local layout is the source
// of truth; the MinIO mirror works with any S3-compatible provider.
package storage

import (
	"context"
	"errors"
)

// ChunkSize bounds how much of an upload is held in memory at once.
const ChunkSize = 1 << 20

// compressedPrefix marks derived artifacts next to their source.
const compressedPrefix = "compressed_"

var (
	// ErrStorage wraps filesystem failures (permissions, disk full).
	ErrStorage = errors.New("storage failure")
	// ErrInvalidPath is returned for subpaths that are absolute or contain "..".
	ErrInvalidPath = errors.New("invalid upload path")
	// ErrInvalidName is returned when no usable file name remains after cleaning.
	ErrInvalidName = errors.New("invalid file name")
	// ErrIncompleteUpload is returned when the inbound stream fails mid-read.
	ErrIncompleteUpload = errors.New("upload stream interrupted")
)

// StoredFile locates one file under the upload root.
type StoredFile struct {
	Path string // absolute on-disk path
	Key  string // slash-separated path relative to the upload root
}

// Mirror replicates a stored file to a secondary store under key and returns
// the URL the copy is reachable at.
type Mirror interface {
	Mirror(ctx context.Context, key, path string) (string, error)
}
