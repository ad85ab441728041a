package blobstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/animus-labs/evalcore/internal/domain"
	platformstore "github.com/animus-labs/evalcore/internal/platform/objectstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Read(ctx, "agent1", "datasets/a.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read() err=%v, want ErrNotFound", err)
	}
	if err := store.Write(ctx, "agent1", "datasets/a.json", []byte(`[1]`)); err != nil {
		t.Fatalf("Write() err=%v", err)
	}
	ok, err := store.Exists(ctx, "agent1", "datasets/a.json")
	if err != nil || !ok {
		t.Fatalf("Exists()=%v,%v", ok, err)
	}
	if ok, _ := store.Exists(ctx, "agent2", "datasets/a.json"); ok {
		t.Fatalf("containers must be isolated")
	}

	content, err := store.Read(ctx, "agent1", "datasets/a.json")
	if err != nil || string(content) != `[1]` {
		t.Fatalf("Read()=%q,%v", content, err)
	}
	content[0] = 'x'
	again, _ := store.Read(ctx, "agent1", "datasets/a.json")
	if string(again) != `[1]` {
		t.Fatalf("Read() must return a copy, got %q", again)
	}

	if err := store.Delete(ctx, "agent1", "datasets/a.json"); err != nil {
		t.Fatalf("Delete() err=%v", err)
	}
	if err := store.Delete(ctx, "agent1", "datasets/a.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() err=%v, want ErrNotFound", err)
	}
	if store.Len() != 0 {
		t.Fatalf("Len()=%d, want 0", store.Len())
	}
}

func TestMapError(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	if !errors.Is(mapError(missing), ErrNotFound) {
		t.Fatalf("NoSuchKey must map to ErrNotFound")
	}
	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	if errors.Is(mapError(denied), ErrNotFound) {
		t.Fatalf("AccessDenied must not map to ErrNotFound")
	}
}

func TestCheckBucketName(t *testing.T) {
	for _, name := range []string{"agent-1", "agent1", "abc", strings.Repeat("a", 63)} {
		if err := CheckBucketName(name); err != nil {
			t.Fatalf("CheckBucketName(%q) err=%v", name, err)
		}
	}
	for _, name := range []string{"my_agent", "ab", "", strings.Repeat("a", 64), "-agent", "agent..1"} {
		if err := CheckBucketName(name); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("CheckBucketName(%q) err=%v, want ErrInvalidInput", name, err)
		}
	}
}

func TestMinioStoreRejectsInvalidContainerBeforeCalling(t *testing.T) {
	client, err := minio.New("127.0.0.1:1", &minio.Options{Creds: credentials.NewStaticV4("key", "secret", "")})
	if err != nil {
		t.Fatalf("minio.New() err=%v", err)
	}
	store, err := NewMinioStoreWithClient(client, platformstore.Config{CreateContainers: true}, nil)
	if err != nil {
		t.Fatalf("NewMinioStoreWithClient() err=%v", err)
	}
	ctx := context.Background()
	if err := store.Write(ctx, "my_agent", "datasets/a.json", []byte(`[]`)); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("Write() err=%v, want ErrInvalidInput", err)
	}
	if _, err := store.Read(ctx, "ab", "datasets/a.json"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("Read() err=%v, want ErrInvalidInput", err)
	}
	if err := store.Delete(ctx, "ab", "datasets/a.json"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("Delete() err=%v, want ErrInvalidInput", err)
	}
}
