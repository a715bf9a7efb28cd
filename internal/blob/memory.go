package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process memory. Presigned URLs point at
// memory:// and are only meaningful to tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, Info, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, Info{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), Info{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (Info, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

func (m *MemoryStore) PresignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	q := url.Values{}
	q.Set("method", "PUT")
	q.Set("contentType", contentType)
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return "memory:///" + key + "?" + q.Encode(), nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key, downloadName string, ttl time.Duration) (string, error) {
	q := url.Values{}
	q.Set("response-content-disposition", ContentDisposition(downloadName))
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return "memory:///" + key + "?" + q.Encode(), nil
}
