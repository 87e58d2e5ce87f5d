package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(filepath.Join(t.TempDir(), "uploads"), "http://files.test/uploads/")
	require.NoError(t, err)
	return s
}

func TestResolveDefaultRoot(t *testing.T) {
	s := newTestStorage(t)

	f, err := s.Resolve("", "cat.jpg")
	require.NoError(t, err)

	assert.Equal(t, s.Root(), filepath.Dir(f.Path))
	assert.True(t, strings.HasSuffix(f.Key, "_cat.jpg"))
	assert.Len(t, strings.TrimSuffix(f.Key, "_cat.jpg"), 36)
	assert.Equal(t, "http://files.test/uploads/"+f.Key, s.PublicURL(f.Key))
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err), "resolve must not create the file")
}

func TestResolveCreatesSubPath(t *testing.T) {
	s := newTestStorage(t)

	f, err := s.Resolve("albums/2024/summer", "beach.png")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(s.Root(), "albums", "2024", "summer"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, strings.HasPrefix(f.Key, "albums/2024/summer/"))
}

func TestResolveRejectsTraversal(t *testing.T) {
	s := newTestStorage(t)

	for _, sub := range []string{"../outside", "a/../../b", "/etc", "a/..", ".."} {
		_, err := s.Resolve(sub, "x.txt")
		assert.ErrorIs(t, err, ErrInvalidPath, "subpath %q", sub)
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "outside"))
	assert.True(t, os.IsNotExist(err))
}

func TestResolveCleansFileName(t *testing.T) {
	s := newTestStorage(t)

	f, err := s.Resolve("", "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, s.Root(), filepath.Dir(f.Path))
	assert.True(t, strings.HasSuffix(f.Key, "_passwd"))

	for _, name := range []string{"", "  ", ".", ".."} {
		_, err := s.Resolve("", name)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestResolveDerived(t *testing.T) {
	s := newTestStorage(t)

	src, err := s.Resolve("shots", "cat.jpg")
	require.NoError(t, err)
	derived, err := s.ResolveDerived(src, "cat.jpg")
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(src.Path), filepath.Dir(derived.Path))
	base := filepath.Base(derived.Path)
	assert.True(t, strings.HasPrefix(base, "compressed_"))
	assert.True(t, strings.HasSuffix(base, "cat.jpg"))
	assert.NotContains(t, strings.TrimPrefix(base, "compressed_"), "_cat.jpg")
}

func TestResolveIsUniqueForSameName(t *testing.T) {
	s := newTestStorage(t)

	const n = 32
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := s.Resolve("same", "dup.txt")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[f.Path] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestWriteStoresExactBytes(t *testing.T) {
	s := newTestStorage(t)
	payload := bytes.Repeat([]byte("0123456789abcdef"), ChunkSize/8+3) // spans three chunks

	f, err := s.Resolve("", "blob.bin")
	require.NoError(t, err)
	n, err := s.Write(context.Background(), f, bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), n)
	got, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
	assertNoTempFiles(t, filepath.Dir(f.Path))
}

func TestWriteEmptyStream(t *testing.T) {
	s := newTestStorage(t)
	f, err := s.Resolve("", "empty.txt")
	require.NoError(t, err)

	n, err := s.Write(context.Background(), f, strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)
	info, err := os.Stat(f.Path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

// chunkRecorder records the size of every write it receives.
type chunkRecorder struct {
	sizes []int
}

func (c *chunkRecorder) Write(p []byte) (int, error) {
	c.sizes = append(c.sizes, len(p))
	return len(p), nil
}

func TestCopyChunksUsesFixedChunks(t *testing.T) {
	rec := &chunkRecorder{}
	total := 2*ChunkSize + 17

	n, err := copyChunks(context.Background(), rec, io.LimitReader(zeroReader{}, int64(total)))
	require.NoError(t, err)

	assert.Equal(t, int64(total), n)
	assert.Equal(t, []int{ChunkSize, ChunkSize, 17}, rec.sizes)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	// small reads force copyChunks to assemble full chunks
	if len(p) > 4096 {
		p = p[:4096]
	}
	clear(p)
	return len(p), nil
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestWriteInterruptedLeavesNoFile(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"connection reset", errors.New("connection reset")},
		{"unexpected EOF", io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(t)
			f, err := s.Resolve("", "broken.bin")
			require.NoError(t, err)

			_, err = s.Write(context.Background(), f, &failingReader{data: []byte("partial"), err: tt.err})
			require.ErrorIs(t, err, ErrIncompleteUpload)

			_, statErr := os.Stat(f.Path)
			assert.True(t, os.IsNotExist(statErr))
			assertNoTempFiles(t, filepath.Dir(f.Path))
		})
	}
}

func TestCopyChunksShortFinalChunkIsComplete(t *testing.T) {
	var buf bytes.Buffer
	n, err := copyChunks(context.Background(), &buf, &failingReader{data: []byte("tail"), err: io.EOF})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "tail", buf.String())
}

func TestWriteCancelledContext(t *testing.T) {
	s := newTestStorage(t)
	f, err := s.Resolve("", "late.bin")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Write(ctx, f, strings.NewReader("data"))
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(f.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteMissingDirectoryIsStorageError(t *testing.T) {
	s := newTestStorage(t)
	f := StoredFile{Path: filepath.Join(s.Root(), "gone", "x.bin"), Key: "gone/x.bin"}

	_, err := s.Write(context.Background(), f, strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrStorage)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".upload-"), "leftover temp file %s", e.Name())
	}
}
