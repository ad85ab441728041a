// Package blobstore reads and writes JSON blobs inside per-agent containers.
package blobstore

import (
	"context"
	"fmt"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/minio/minio-go/v7/pkg/s3utils"
)

var ErrNotFound = domain.ErrNotFound

// Store abstracts the object store. Read and Delete return ErrNotFound for
// a missing blob.
type Store interface {
	Read(ctx context.Context, container, path string) ([]byte, error)
	Write(ctx context.Context, container, path string, content []byte) error
	Exists(ctx context.Context, container, path string) (bool, error)
	Delete(ctx context.Context, container, path string) error
}

// ContainerChecker is implemented by stores that restrict container names.
type ContainerChecker interface {
	CheckContainer(container string) error
}

// CheckBucketName rejects containers that are not valid S3 bucket names.
func CheckBucketName(container string) error {
	if err := s3utils.CheckValidBucketNameStrict(container); err != nil {
		return fmt.Errorf("%w: container %q is not a valid bucket name: %v", domain.ErrInvalidInput, container, err)
	}
	return nil
}
