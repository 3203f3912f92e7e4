// Package contentstore keeps uploaded artifacts and their derived OCR
// sidecars on disk, and issues signed credentials scoped to one object.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for paths that escape the store root.
var ErrInvalidPath = errors.New("invalid storage path")

// FileStore stores objects under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidPath)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if path == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(s.root, clean), nil
}

// Put streams r to path and returns the size and SHA-256 of what was written.
// Data lands in a temp file that is synced and renamed into place, so
// readers never see a partial object.
func (s *FileStore) Put(ctx context.Context, path string, r io.Reader) (int64, string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return 0, "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), filepath.Base(full)+".*.tmp")
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(&ctxReader{ctx: ctx, r: r}, hasher))
	if err != nil {
		cleanup()
		return 0, "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, "", fmt.Errorf("failed to sync object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, "", fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		_ = os.Remove(tmpPath)
		return 0, "", fmt.Errorf("failed to move object into place: %w", err)
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open opens path for reading. The caller closes the reader.
func (s *FileStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full) //nolint:gosec // path is confined to the root by resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", path, err)
	}
	return f, nil
}

// Stat reports the size of path. A missing object is not an error.
func (s *FileStore) Stat(_ context.Context, path string) (int64, bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to stat object %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

// Delete removes path. Deleting a missing object succeeds.
func (s *FileStore) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", path, err)
	}
	return nil
}

// Checksum computes the SHA-256 of an existing object.
func (s *FileStore) Checksum(ctx context.Context, path string) (string, error) {
	rc, err := s.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, &ctxReader{ctx: ctx, r: rc}); err != nil {
		return "", fmt.Errorf("failed to hash object %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
