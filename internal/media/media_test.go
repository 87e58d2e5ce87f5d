package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		ok   bool
	}{
		{"photo.jpg", KindImage, true},
		{"PHOTO.JPEG", KindImage, true},
		{"scan.Png", KindImage, true},
		{"clip.mp4", KindVideo, true},
		{"clip.AVI", KindVideo, true},
		{"movie.mkv", KindVideo, true},
		{"notes.txt", "", false},
		{"archive.jpg.zip", "", false},
		{"jpg", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := DetectKind(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestVideoBitrateKbps(t *testing.T) {
	assert.Equal(t, 200, VideoBitrateKbps(20))
	assert.Equal(t, 1000, VideoBitrateKbps(100))
}

type recordingEncoder struct {
	param int
	dst   string
	data  []byte
}

func (r *recordingEncoder) Compress(_ context.Context, src io.Reader, dst string, param int) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	r.param, r.dst, r.data = param, dst, data
	return nil
}

func TestCompressorRoutesByKind(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	img, vid := &recordingEncoder{}, &recordingEncoder{}
	c := NewCompressor(img, vid)

	require.NoError(t, c.Compress(context.Background(), KindImage, src, filepath.Join(dir, "a.jpg"), 50))
	assert.Equal(t, 50, img.param)
	assert.Equal(t, []byte("payload"), img.data)

	require.NoError(t, c.Compress(context.Background(), KindVideo, src, filepath.Join(dir, "b.mp4"), 20))
	assert.Equal(t, 200, vid.param)
	assert.Equal(t, filepath.Join(dir, "b.mp4"), vid.dst)
}

func TestCompressorMissingEncoder(t *testing.T) {
	c := NewCompressor(nil, nil)
	err := c.Compress(context.Background(), KindVideo, "in", "out", 10)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestCompressorMissingSource(t *testing.T) {
	c := NewCompressor(&recordingEncoder{}, nil)
	err := c.Compress(context.Background(), KindImage, filepath.Join(t.TempDir(), "nope.jpg"), "out.jpg", 10)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
