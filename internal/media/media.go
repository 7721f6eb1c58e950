// Package media downloads and stores message attachments for bizarchive.
//
// Files are fetched by reference id through the Bot API, size-checked
// before download, and written to a flat media directory with
// collision-free names.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/eg-rek/bizarchive/internal/models"
	"github.com/eg-rek/bizarchive/internal/telegram"
)

// DefaultMaxFileBytes is the default media size ceiling (50 MB).
const DefaultMaxFileBytes = 50 * 1024 * 1024

// DefaultDirPermissions defines the permissions for the media directory.
const DefaultDirPermissions = 0755

// FileResolver resolves and downloads file references. Implemented by
// telegram.Client.
type FileResolver interface {
	GetFile(ctx context.Context, fileID string) (telegram.File, error)
	Download(ctx context.Context, filePath string) (io.ReadCloser, error)
}

// Opts holds configuration options for the media store.
type Opts struct {
	Dir      string
	MaxBytes int64
}

// Option defines a configuration option for the media store.
type Option func(*Opts)

// WithDir sets the directory downloaded files are written to.
func WithDir(dir string) Option {
	return func(o *Opts) { o.Dir = dir }
}

// WithMaxBytes sets the media size ceiling.
func WithMaxBytes(n int64) Option {
	return func(o *Opts) { o.MaxBytes = n }
}

// Store persists downloaded attachments on disk.
type Store struct {
	api      FileResolver
	dir      string
	maxBytes int64
}

// NewStore creates a media store backed by the given resolver. The
// media directory is created if it does not exist.
func NewStore(api FileResolver, opts ...Option) (*Store, error) {
	cfg := Opts{Dir: "media", MaxBytes: DefaultMaxFileBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create media directory %s: %w", cfg.Dir, err)
	}
	slog.Debug("Media store initialized", "dir", cfg.Dir, "max_bytes", cfg.MaxBytes)
	return &Store{api: api, dir: cfg.Dir, maxBytes: cfg.MaxBytes}, nil
}

// Fetch downloads the attachment behind fileID and returns the local
// path it was written to. Oversized files are rejected before download
// with models.ErrOversizedMedia.
func (s *Store) Fetch(ctx context.Context, fileID string, kind models.MediaKind) (string, error) {
	info, err := s.api.GetFile(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	if info.FileSize > s.maxBytes {
		slog.Warn("Rejecting oversized media", "file_id", fileID, "size", info.FileSize, "limit", s.maxBytes)
		return "", models.ErrOversizedMedia
	}

	body, err := s.api.Download(ctx, info.FilePath)
	if err != nil {
		return "", fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer body.Close()

	localPath := filepath.Join(s.dir, s.fileName(kind, info.FilePath))
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create media file %s: %w", localPath, err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(localPath)
		return "", fmt.Errorf("write media file %s: %w", localPath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close media file %s: %w", localPath, err)
	}
	slog.Debug("Media stored", "file_id", fileID, "kind", kind, "path", localPath)
	return localPath, nil
}

// fileName builds "<kind>_<timestamp>_<uuid><ext>" to keep concurrent
// same-second downloads from colliding.
func (s *Store) fileName(kind models.MediaKind, remotePath string) string {
	return fmt.Sprintf("%s_%s_%s%s", kind, time.Now().Format("20060102_150405"), uuid.New(), filepath.Ext(remotePath))
}

// Remove deletes a stored file, ignoring already-missing paths. It
// reports whether a file was actually removed.
func (s *Store) Remove(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove media file %s: %w", path, err)
	}
	return true, nil
}
