package s3client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockClient is an in-memory ObjectClient for unit tests
type MockClient struct {
	bucket  string
	objects map[string][]byte
	mu      sync.RWMutex
}

var _ ObjectClient = (*MockClient)(nil)

// NewMockClient creates a new mock S3 client
func NewMockClient(bucket string) *MockClient {
	return &MockClient{
		bucket:  bucket,
		objects: make(map[string][]byte),
	}
}

// ListObjects lists keys with the given prefix in lexical order, as S3 does
func (m *MockClient) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetObject retrieves a copy of an object
func (m *MockClient) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.objects[key]
	if !exists {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

// PutObject stores a copy of data
func (m *MockClient) PutObject(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = append([]byte(nil), data...)
	return nil
}

// DeleteObject deletes an object; missing keys are not an error
func (m *MockClient) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	return nil
}
