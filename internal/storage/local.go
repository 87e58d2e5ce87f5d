package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// resolveAttempts caps retries when a generated name already exists.
const resolveAttempts = 3

// LocalStorage derives unique paths under an upload root and streams uploads into them.
type LocalStorage struct {
	root       string
	publicBase string
}

// NewLocalStorage creates the upload root if needed. publicBase is the
// browser-accessible URL the root is served under, e.g. "https://host/uploads".
func NewLocalStorage(root, publicBase string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload root: %w", ErrStorage, err)
	}
	return &LocalStorage{
		root:       abs,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

// Root returns the absolute upload root.
func (s *LocalStorage) Root() string {
	return s.root
}

// PublicURL returns the browser-accessible URL for key.
func (s *LocalStorage) PublicURL(key string) string {
	return s.publicBase + "/" + strings.TrimLeft(key, "/")
}

// Resolve creates root/subPath if needed and returns a fresh
// "<uuid>_<fileName>" location inside it.
func (s *LocalStorage) Resolve(subPath, fileName string) (StoredFile, error) {
	name, err := cleanName(fileName)
	if err != nil {
		return StoredFile{}, err
	}
	dir, err := s.dirFor(subPath)
	if err != nil {
		return StoredFile{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StoredFile{}, fmt.Errorf("%w: create directory %q: %w", ErrStorage, dir, err)
	}
	return s.unique(dir, func() string { return uuid.NewString() + "_" + name })
}

// ResolveDerived returns a "compressed_<uuid><fileName>" location in the
// directory of source.
func (s *LocalStorage) ResolveDerived(source StoredFile, fileName string) (StoredFile, error) {
	name, err := cleanName(fileName)
	if err != nil {
		return StoredFile{}, err
	}
	return s.unique(filepath.Dir(source.Path), func() string {
		return compressedPrefix + uuid.NewString() + name
	})
}

func (s *LocalStorage) unique(dir string, next func() string) (StoredFile, error) {
	for i := 0; i < resolveAttempts; i++ {
		path := filepath.Join(dir, next())
		if _, err := os.Lstat(path); os.IsNotExist(err) {
			return s.stored(path)
		}
	}
	return StoredFile{}, fmt.Errorf("%w: no free name in %q", ErrStorage, dir)
}

func (s *LocalStorage) stored(path string) (StoredFile, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || !within(rel) {
		return StoredFile{}, ErrInvalidPath
	}
	return StoredFile{Path: path, Key: filepath.ToSlash(rel)}, nil
}

// dirFor confines subPath to the upload root. Absolute paths and ".." segments
// are rejected outright rather than canonicalised.
func (s *LocalStorage) dirFor(subPath string) (string, error) {
	sub := strings.TrimSpace(subPath)
	if sub == "" {
		return s.root, nil
	}
	sub = filepath.FromSlash(sub)
	if filepath.IsAbs(sub) || filepath.VolumeName(sub) != "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(filepath.ToSlash(sub), "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	dir := filepath.Join(s.root, sub)
	rel, err := filepath.Rel(s.root, dir)
	if err != nil || !within(rel) {
		return "", ErrInvalidPath
	}
	return dir, nil
}

func within(rel string) bool {
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func cleanName(fileName string) (string, error) {
	name := filepath.Base(strings.TrimSpace(strings.ReplaceAll(fileName, "\\", "/")))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", ErrInvalidName
	}
	return name, nil
}

// Write streams src into dst in ChunkSize pieces. Data lands in a hidden temp
// file in the same directory and is renamed onto dst.Path only once complete,
// so readers never observe a partial file. It returns the bytes written.
func (s *LocalStorage) Write(ctx context.Context, dst StoredFile, src io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst.Path), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("%w: create temp file: %w", ErrStorage, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := copyChunks(ctx, tmp, src)
	if err != nil {
		return n, err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return n, fmt.Errorf("%w: chmod: %w", ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("%w: sync: %w", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("%w: close: %w", ErrStorage, err)
	}
	if err := os.Rename(tmpPath, dst.Path); err != nil {
		return n, fmt.Errorf("%w: rename into place: %w", ErrStorage, err)
	}
	committed = true
	return n, nil
}

// copyChunks copies src to dst in ChunkSize pieces. Only io.EOF from src ends
// the copy cleanly; any other read error, io.ErrUnexpectedEOF included, means
// the upload was cut short.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := fillChunk(src, buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("%w: write: %w", ErrStorage, werr)
			}
			if nw != nr {
				return written, fmt.Errorf("%w: write: %w", ErrStorage, io.ErrShortWrite)
			}
		}
		switch rerr {
		case nil:
		case io.EOF:
			return written, nil
		default:
			return written, fmt.Errorf("%w: %w", ErrIncompleteUpload, rerr)
		}
	}
}

// fillChunk reads until buf is full or src returns an error, which is passed
// through unchanged.
func fillChunk(src io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := src.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
