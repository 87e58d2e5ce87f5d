package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// ImageEncoder re-encodes any decodable image as JPEG.
type ImageEncoder struct{}

// NewImageEncoder returns an ImageEncoder.
func NewImageEncoder() *ImageEncoder {
	return &ImageEncoder{}
}

// Compress decodes src and writes it to dst as a JPEG of the given quality
// (clamped to 1-100). The output is written beside dst and renamed into place.
func (e *ImageEncoder) Compress(ctx context.Context, src io.Reader, dst string, quality int) error {
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".compress-*.jpg")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrEncode, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(clampQuality(quality))); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrEncode, err)
	}
	if err := commit(tmpPath, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return nil
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	}
	return q
}
