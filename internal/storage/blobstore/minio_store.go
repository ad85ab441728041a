package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	platformstore "github.com/animus-labs/evalcore/internal/platform/objectstore"
	"github.com/minio/minio-go/v7"
)

const contentTypeJSON = "application/json"

// MinioStore maps containers onto buckets.
type MinioStore struct {
	client           *minio.Client
	region           string
	createContainers bool
	logger           *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

func NewMinioStore(cfg platformstore.Config, logger *slog.Logger) (*MinioStore, error) {
	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewMinioStoreWithClient(client, cfg, logger)
}

func NewMinioStoreWithClient(client *minio.Client, cfg platformstore.Config, logger *slog.Logger) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MinioStore{
		client:           client,
		region:           cfg.Region,
		createContainers: cfg.CreateContainers,
		logger:           logger,
		known:            make(map[string]struct{}),
	}, nil
}

func (s *MinioStore) Client() *minio.Client {
	return s.client
}

func (s *MinioStore) CheckContainer(container string) error {
	return CheckBucketName(container)
}

func (s *MinioStore) Read(ctx context.Context, container, path string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("minio store not initialized")
	}
	if err := CheckBucketName(container); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, container, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	defer obj.Close()
	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(err)
	}
	return content, nil
}

func (s *MinioStore) Write(ctx context.Context, container, path string, content []byte) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio store not initialized")
	}
	if err := CheckBucketName(container); err != nil {
		return err
	}
	if err := s.ensureContainer(ctx, container); err != nil {
		return err
	}
	opts := minio.PutObjectOptions{ContentType: contentTypeJSON}
	if _, err := s.client.PutObject(ctx, container, path, bytes.NewReader(content), int64(len(content)), opts); err != nil {
		return fmt.Errorf("put %s/%s: %w", container, path, err)
	}
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, container, path string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("minio store not initialized")
	}
	if err := CheckBucketName(container); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, container, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", container, path, err)
}

// Delete removes the blob. S3 deletes are idempotent, so a stat first is the
// only way to report ErrNotFound.
func (s *MinioStore) Delete(ctx context.Context, container, path string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio store not initialized")
	}
	exists, err := s.Exists(ctx, container, path)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	if err := s.client.RemoveObject(ctx, container, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s/%s: %w", container, path, err)
	}
	return nil
}

func (s *MinioStore) ensureContainer(ctx context.Context, container string) error {
	if !s.createContainers {
		return nil
	}
	s.mu.Lock()
	_, ok := s.known[container]
	s.mu.Unlock()
	if ok {
		return nil
	}
	if err := platformstore.EnsureBucket(ctx, s.client, container, s.region); err != nil {
		return err
	}
	s.logger.Debug("container ready", "container", container)
	s.mu.Lock()
	s.known[container] = struct{}{}
	s.mu.Unlock()
	return nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}

func mapError(err error) error {
	if isNotFound(err) {
		return ErrNotFound
	}
	return err
}
