package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const gcsUploadTimeout = 2 * time.Minute

// GCSConfig - настройки бакета Google Cloud Storage.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	// PublicBaseURL - домен CDN. Пусто - https://storage.googleapis.com/<bucket>.
	PublicBaseURL string
}

// GCSStorage хранит артефакты в бакете GCS.
type GCSStorage struct {
	client  *storage.Client
	bucket  string
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

var _ ObjectStorage = (*GCSStorage)(nil)

// NewGCSStorage создает клиента GCS.
func NewGCSStorage(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCSStorage, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + cfg.Bucket
	}
	logger.Info("Object storage initialized", zap.String("driver", "gcs"), zap.String("bucket", cfg.Bucket), zap.String("public_base_url", baseURL))

	return &GCSStorage{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: baseURL,
		logger:  logger.Named("GCSStorage"),
		now:     time.Now,
	}, nil
}

// Put загружает объект и возвращает его публичный URL.
func (s *GCSStorage) Put(ctx context.Context, data []byte, contentType string, meta Metadata) (string, error) {
	key := objectKey(meta, contentType, s.now())
	ctx, cancel := context.WithTimeout(ctx, gcsUploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"category": string(meta.Category)}
	if meta.StoryID != uuid.Nil {
		w.Metadata["story_id"] = meta.StoryID.String()
	}
	for k, v := range meta.Extra {
		w.Metadata[k] = v
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}

	s.logger.Debug("Object uploaded", zap.String("key", key), zap.Int("size", len(data)))
	return joinURL(s.baseURL, key), nil
}

// Get скачивает объект по его публичному URL.
func (s *GCSStorage) Get(ctx context.Context, url string) (Object, error) {
	key, err := keyFromURL(s.baseURL, url)
	if err != nil {
		return Object{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsUploadTimeout)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return Object{}, fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("failed to read GCS object %s: %w", key, err)
	}
	contentType := r.Attrs.ContentType
	if contentType == "" {
		contentType = contentTypeFor(key)
	}
	s.logger.Debug("Object downloaded", zap.String("key", key), zap.Int("size", len(data)))
	return Object{Data: data, ContentType: contentType}, nil
}

// Close закрывает клиента GCS.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}
