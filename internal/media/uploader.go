// ABOUTME: Media upload collaborator that stores message images and returns their public URL
// ABOUTME: LocalUploader writes into an afero filesystem and serves the files back over HTTP

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Upload errors
var (
	ErrUpload       = errors.New("media upload failed")
	ErrInvalidMedia = errors.New("invalid media")
	ErrTooLarge     = errors.New("media too large") // always wrapped together with ErrInvalidMedia
)

// Uploader stores binary media and returns a URL clients can fetch it from.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
}

// extensions maps sniffed content types to the stored file extension.
var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// LocalUploader stores uploads in a filesystem rooted at the media directory.
type LocalUploader struct {
	fs       afero.Fs
	baseURL  string
	maxBytes int64
	logger   *slog.Logger
}

// NewLocalUploader creates an uploader over fs. Returned URLs are baseURL
// joined with the stored object name. maxBytes <= 0 disables the size check.
func NewLocalUploader(fs afero.Fs, baseURL string, maxBytes int64, logger *slog.Logger) *LocalUploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalUploader{
		fs:       fs,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger.With("component", "media"),
	}
}

// NewDiskUploader creates an uploader writing beneath dir on the host filesystem.
func NewDiskUploader(dir, baseURL string, maxBytes int64, logger *slog.Logger) (*LocalUploader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving media dir: %w", err)
	}
	if err := afero.NewOsFs().MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return NewLocalUploader(afero.NewBasePathFs(afero.NewOsFs(), abs), baseURL, maxBytes, logger), nil
}

// Upload validates that data is an image, writes it under a fresh name and
// returns its URL. Validation failures wrap ErrInvalidMedia, write failures
// wrap ErrUpload.
func (u *LocalUploader) Upload(ctx context.Context, data []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidMedia)
	}
	if u.maxBytes > 0 && int64(len(data)) > u.maxBytes {
		return "", fmt.Errorf("%w: %w: %d bytes exceeds limit of %d", ErrInvalidMedia, ErrTooLarge, len(data), u.maxBytes)
	}

	contentType := http.DetectContentType(data)
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: unsupported content type %s", ErrInvalidMedia, contentType)
	}

	object := uuid.NewString() + ext
	if err := afero.WriteFile(u.fs, "/"+object, data, 0644); err != nil {
		u.logger.Error("failed to store upload", "name", name, "error", err)
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	u.logger.Debug("stored upload", "name", name, "object", object, "bytes", len(data), "content_type", contentType)
	return u.baseURL + "/" + object, nil
}

// Handler serves stored uploads. Mount it with the URL prefix stripped.
func (u *LocalUploader) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(u.fs).Dir("/"))
}

// Compile-time interface check
var _ Uploader = (*LocalUploader)(nil)
