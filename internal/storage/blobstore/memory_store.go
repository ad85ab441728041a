package blobstore

import (
	"context"
	"sync"
)

// MemoryStore keeps blobs in process memory. It backs local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func memoryKey(container, path string) string {
	return container + "/" + path
}

func (s *MemoryStore) Read(_ context.Context, container, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.blobs[memoryKey(container, path)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

func (s *MemoryStore) Write(_ context.Context, container, path string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[memoryKey(container, path)] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, container, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[memoryKey(container, path)]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, container, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey(container, path)
	if _, ok := s.blobs[key]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*MinioStore)(nil)
)
