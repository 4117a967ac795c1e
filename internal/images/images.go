// Package images implements the content-addressed step image service.
//
// Uploaded images are deduplicated by an MD5 content hash: byte-identical
// uploads reuse the first stored asset instead of writing a second file.
// Collision resistance is not a security requirement here, only accidental
// dedup reliability; assets are never mutated once written.
package images

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

// Constants for image service configuration
const (
	// DefaultDirPermissions defines the default permissions for the asset directory
	DefaultDirPermissions = 0755
	// DefaultURLPrefix is where stored assets are served from
	DefaultURLPrefix = "/flows/images/"
)

// allowedMIMETypes maps accepted upload content types to storage extensions.
var allowedMIMETypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// extensionMIMETypes maps storage extensions back to content types for serving.
var extensionMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// assetNamePattern constrains served file names to names that cannot escape
// the asset directory.
var assetNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Opts holds configuration options for the image service.
type Opts struct {
	Dir       string
	URLPrefix string
}

// Option defines a configuration option for the image service.
type Option func(*Opts)

// WithDir sets the asset directory.
func WithDir(dir string) Option {
	return func(o *Opts) { o.Dir = dir }
}

// WithURLPrefix sets the public URL prefix returned for stored assets.
func WithURLPrefix(prefix string) Option {
	return func(o *Opts) { o.URLPrefix = prefix }
}

// Service deduplicates and serves step images. It owns an explicit
// hash-to-filename index built at startup and maintained on write; the index
// replaces a per-upload directory scan without changing the contract.
type Service struct {
	mu        sync.Mutex
	dir       string
	urlPrefix string
	index     map[string]string // content hash -> stored file name
}

// NewService creates the image service rooted at the configured asset
// directory, creating it if needed, and indexes any existing assets.
func NewService(opts ...Option) (*Service, error) {
	cfg := Opts{URLPrefix: DefaultURLPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dir == "" {
		slog.Error("image service asset directory not set")
		return nil, fmt.Errorf("asset directory not set")
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create asset directory", "error", err, "dir", cfg.Dir)
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	s := &Service{dir: cfg.Dir, urlPrefix: cfg.URLPrefix, index: make(map[string]string)}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	slog.Debug("Service.NewService: image service ready", "dir", cfg.Dir, "indexed", len(s.index))
	return s, nil
}

// Ingest validates, deduplicates, and stores one uploaded image. When an
// asset with identical content already exists its file name is returned with
// IsDuplicate set and nothing is written.
func (s *Service) Ingest(data []byte, declaredName, contentType string) (models.ImageIngestResult, error) {
	ext, ok := allowedMIMETypes[normalizeContentType(contentType)]
	if !ok {
		slog.Warn("Service.Ingest: rejected content type", "contentType", contentType, "declaredName", declaredName)
		return models.ImageIngestResult{}, fmt.Errorf("%w: %q", models.ErrUnsupportedImageType, contentType)
	}
	if len(data) == 0 {
		return models.ImageIngestResult{}, fmt.Errorf("%w: empty image payload", models.ErrValidation)
	}
	if len(data) > models.MaxImageSizeBytes {
		slog.Warn("Service.Ingest: rejected oversized payload", "bytes", len(data), "declaredName", declaredName)
		return models.ImageIngestResult{}, fmt.Errorf("%w: %d bytes", models.ErrImageTooLarge, len(data))
	}

	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[hash]; ok {
		slog.Debug("Service.Ingest: duplicate content, reusing asset", "fileName", existing, "hash", hash)
		return models.ImageIngestResult{
			ImageURL:    s.urlPrefix + existing,
			FileName:    existing,
			IsDuplicate: true,
		}, nil
	}

	if declared := strings.ToLower(filepath.Ext(declaredName)); extensionMIMETypes[declared] != "" {
		ext = declared
	}
	millis := time.Now().UnixMilli()
	fileName := fmt.Sprintf("emergency-flow-step%d%s", millis, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(s.dir, fileName)); os.IsNotExist(err) {
			break
		}
		// Same-millisecond upload; bump the name rather than overwrite.
		fileName = fmt.Sprintf("emergency-flow-step%d-%d%s", millis, i, ext)
	}
	if err := s.writeAsset(fileName, data); err != nil {
		return models.ImageIngestResult{}, err
	}
	s.index[hash] = fileName

	slog.Info("Service.Ingest: asset stored", "fileName", fileName, "bytes", len(data), "hash", hash)
	return models.ImageIngestResult{
		ImageURL:    s.urlPrefix + fileName,
		FileName:    fileName,
		IsDuplicate: false,
	}, nil
}

// Open returns the bytes and content type of a stored asset. The content
// type is inferred from the file extension.
func (s *Service) Open(fileName string) ([]byte, string, error) {
	if !assetNamePattern.MatchString(fileName) || strings.Contains(fileName, "..") {
		return nil, "", fmt.Errorf("%w: invalid asset name %q", models.ErrValidation, fileName)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", models.ErrImageNotFound
		}
		slog.Error("Service.Open: read failed", "fileName", fileName, "error", err)
		return nil, "", fmt.Errorf("%w: reading asset %s: %v", models.ErrStorage, fileName, err)
	}
	contentType := extensionMIMETypes[strings.ToLower(filepath.Ext(fileName))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// List returns the known assets with their content hashes.
func (s *Service) List() []models.ImageAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	assets := make([]models.ImageAsset, 0, len(s.index))
	for hash, name := range s.index {
		assets = append(assets, models.ImageAsset{
			FileName:    name,
			ContentHash: hash,
			Path:        filepath.Join(s.dir, name),
		})
	}
	return assets
}

// rebuildIndex hashes every image file currently in the asset directory.
// Unreadable files are logged and skipped.
func (s *Service) rebuildIndex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Error("Service.rebuildIndex: directory read failed", "dir", s.dir, "error", err)
		return fmt.Errorf("%w: reading asset directory: %v", models.ErrStorage, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || extensionMIMETypes[strings.ToLower(filepath.Ext(entry.Name()))] == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.Warn("Service.rebuildIndex: skipping unreadable asset", "file", entry.Name(), "error", err)
			continue
		}
		sum := md5.Sum(data)
		hash := hex.EncodeToString(sum[:])
		// First file wins for a given hash, matching dedup's reuse rule.
		if _, ok := s.index[hash]; !ok {
			s.index[hash] = entry.Name()
		}
	}
	return nil
}

// writeAsset persists asset bytes atomically: temp file then rename.
func (s *Service) writeAsset(fileName string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".asset-*.tmp")
	if err != nil {
		slog.Error("Service.writeAsset: temp file creation failed", "error", err)
		return fmt.Errorf("%w: creating temp asset: %v", models.ErrStorage, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing asset %s: %v", models.ErrStorage, fileName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp asset: %v", models.ErrStorage, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, fileName)); err != nil {
		os.Remove(tmpName)
		slog.Error("Service.writeAsset: rename failed", "fileName", fileName, "error", err)
		return fmt.Errorf("%w: storing asset %s: %v", models.ErrStorage, fileName, err)
	}
	return nil
}

// normalizeContentType strips parameters like "; charset=..." and lowercases.
func normalizeContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
