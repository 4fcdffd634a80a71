package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// LocalStorage сохраняет артефакты в файловую систему, файлы раздаются по PublicBaseURL.
type LocalStorage struct {
	savePath      string
	publicBaseURL string
	logger        *zap.Logger
	now           func() time.Time
}

var _ ObjectStorage = (*LocalStorage)(nil)

// NewLocalStorage создает хранилище и каталог для файлов.
func NewLocalStorage(savePath, publicBaseURL string, logger *zap.Logger) (*LocalStorage, error) {
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create save directory %s: %w", savePath, err)
	}
	logger.Info("Object storage initialized", zap.String("driver", "local"), zap.String("save_path", savePath), zap.String("public_base_url", publicBaseURL))
	return &LocalStorage{
		savePath:      savePath,
		publicBaseURL: publicBaseURL,
		logger:        logger.Named("LocalStorage"),
		now:           time.Now,
	}, nil
}

// Put записывает файл и возвращает его публичный URL.
func (s *LocalStorage) Put(ctx context.Context, data []byte, contentType string, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := objectKey(meta, contentType, s.now())
	fullPath := filepath.Join(s.savePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", fullPath, err)
	}

	s.logger.Debug("File saved", zap.String("path", fullPath), zap.Int("size", len(data)))
	return joinURL(s.publicBaseURL, key), nil
}

// Get читает файл по его публичному URL.
func (s *LocalStorage) Get(ctx context.Context, url string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	key, err := keyFromURL(s.publicBaseURL, url)
	if err != nil {
		return Object{}, err
	}
	fullPath := filepath.Join(s.savePath, filepath.FromSlash(key))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return Object{}, fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}
	return Object{Data: data, ContentType: contentTypeFor(key)}, nil
}
