// Package media recompresses uploaded images and videos.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the capability an upload is compressed with.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var kindsByExt = map[string]Kind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".mp4":  KindVideo,
	".avi":  KindVideo,
	".mkv":  KindVideo,
}

var (
	// ErrDecode is returned when the source bytes are not a readable image.
	ErrDecode = errors.New("decode image")
	// ErrEncode is returned when the compressed image cannot be written.
	ErrEncode = errors.New("encode image")
	// ErrTranscode is returned when the external transcoder fails or produces nothing.
	ErrTranscode = errors.New("transcode video")
	// ErrUnsupportedKind is returned for kinds without a configured encoder.
	ErrUnsupportedKind = errors.New("unsupported media kind")
)

// DetectKind maps a file name to a Kind by case-insensitive extension.
// The second result is false for files that are never compressed.
func DetectKind(fileName string) (Kind, bool) {
	kind, ok := kindsByExt[strings.ToLower(filepath.Ext(fileName))]
	return kind, ok
}

// VideoBitrateKbps converts a compression level into the target video bitrate.
func VideoBitrateKbps(level int) int {
	return level * 10
}

// Encoder writes a compressed rendition of src to dst. The meaning of param
// depends on the encoder: JPEG quality for images, kbps for videos.
type Encoder interface {
	Compress(ctx context.Context, src io.Reader, dst string, param int) error
}

// Compressor selects an Encoder by Kind.
type Compressor struct {
	image Encoder
	video Encoder
}

// NewCompressor creates a Compressor. Either encoder may be nil, in which case
// jobs of that kind fail with ErrUnsupportedKind.
func NewCompressor(image, video Encoder) *Compressor {
	return &Compressor{image: image, video: video}
}

// Compress reads srcPath and writes the compressed artifact to dstPath.
// level is the 1-100 compression level supplied with the upload.
func (c *Compressor) Compress(ctx context.Context, kind Kind, srcPath, dstPath string, level int) error {
	var (
		enc   Encoder
		param int
	)
	switch kind {
	case KindImage:
		enc, param = c.image, level
	case KindVideo:
		enc, param = c.video, VideoBitrateKbps(level)
	}
	if enc == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	return enc.Compress(ctx, f, dstPath, param)
}

// commit renames a finished temp file onto dst, replacing any existing file.
func commit(tmpPath, dst string) error {
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}
