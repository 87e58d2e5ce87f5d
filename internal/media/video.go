package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// maxStderr bounds how much transcoder output is kept for error messages.
const maxStderr = 4096

// VideoEncoder transcodes videos with an external ffmpeg binary.
type VideoEncoder struct {
	binary     string
	scratchDir string
	logger     *slog.Logger
}

// NewVideoEncoder returns a VideoEncoder running binary ("ffmpeg" when empty).
// Scratch input files are created in scratchDir, or os.TempDir() when empty.
func NewVideoEncoder(binary, scratchDir string, logger *slog.Logger) *VideoEncoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoEncoder{binary: binary, scratchDir: scratchDir, logger: logger}
}

// TranscodeArgs builds the ffmpeg argument list for one transcode.
func TranscodeArgs(input, output string, kbps int) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-b:v", fmt.Sprintf("%dk", kbps),
		output,
	}
}

// Compress copies src into a scratch file, transcodes it to dst at kbps and
// removes the scratch file on every exit path. The container follows dst's
// extension and any existing file at dst is replaced.
func (e *VideoEncoder) Compress(ctx context.Context, src io.Reader, dst string, kbps int) error {
	ext := strings.ToLower(filepath.Ext(dst))

	scratch, err := os.CreateTemp(e.scratchDir, "transcode-in-*"+ext)
	if err != nil {
		return fmt.Errorf("%w: create scratch file: %w", ErrTranscode, err)
	}
	defer os.Remove(scratch.Name())

	_, copyErr := io.Copy(scratch, src)
	closeErr := scratch.Close()
	if copyErr != nil {
		return fmt.Errorf("%w: fill scratch file: %w", ErrTranscode, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close scratch file: %w", ErrTranscode, closeErr)
	}

	out, err := os.CreateTemp(filepath.Dir(dst), ".compress-*"+ext)
	if err != nil {
		return fmt.Errorf("%w: create output file: %w", ErrTranscode, err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath) // no-op once renamed

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, TranscodeArgs(scratch.Name(), outPath, kbps)...)
	cmd.Stderr = &limitedBuffer{buf: &stderr, max: maxStderr}
	e.logger.Debug("starting transcode", "binary", e.binary, "output", dst, "bitrate_kbps", kbps)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %w: %s", ErrTranscode, e.binary, err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s produced no output", ErrTranscode, e.binary)
	}
	if err := commit(outPath, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	return nil
}

// limitedBuffer keeps the first max bytes written and discards the rest.
type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
