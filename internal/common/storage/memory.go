package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStorage keeps objects in process memory. Used when no MinIO endpoint
// is configured and in tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data []byte
	info ObjectInfo
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

func (s *MemoryStorage) PutObject(ctx context.Context, bucket, key string, data []byte, info ObjectInfo) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	stored := ObjectInfo{
		Size:        int64(len(data)),
		ContentType: info.ContentType,
		Metadata:    make(map[string]string, len(info.Metadata)),
	}
	for k, v := range info.Metadata {
		stored.Metadata[strings.ToLower(k)] = v
	}
	s.mu.Lock()
	s.objects[bucket+"/"+key] = memoryObject{data: append([]byte(nil), data...), info: stored}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) GetObject(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[bucket+"/"+key]
	s.mu.RUnlock()
	if !ok {
		return nil, ObjectInfo{}, ErrObjectNotFound
	}
	if maxBytes > 0 && obj.info.Size > maxBytes {
		return nil, obj.info, ErrObjectTooLarge
	}
	return append([]byte(nil), obj.data...), obj.info, nil
}

func (s *MemoryStorage) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[bucket+"/"+key]
	s.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return obj.info, nil
}
