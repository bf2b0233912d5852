// mock_storage.go - In-memory blob storage for testing
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/filedrop/backend/internal/models"
	"github.com/filedrop/backend/internal/storage"
)

// MockStorage implements storage.Store in memory.
type MockStorage struct {
	blobs    map[string]*models.BlobInfo
	blobData map[string][]byte
	mu       sync.RWMutex
	nextID   int

	// FailSaveAfter makes every save after the first n fail when > 0.
	FailSaveAfter int
	saves         int
}

var _ storage.Store = (*MockStorage)(nil)

// NewMockStorage creates an empty mock storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		blobs:    make(map[string]*models.BlobInfo),
		blobData: make(map[string][]byte),
	}
}

func (m *MockStorage) Save(name, contentType string, r io.Reader) (*models.BlobInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.SaveBytes(name, contentType, data)
}

func (m *MockStorage) SaveBytes(name, contentType string, data []byte) (*models.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	if m.FailSaveAfter > 0 && m.saves > m.FailSaveAfter {
		return nil, fmt.Errorf("mock save failure for %s", name)
	}

	m.nextID++
	id := fmt.Sprintf("blob-%d", m.nextID)
	info := &models.BlobInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		Type:       contentType,
		UploadedAt: time.Now(),
	}

	m.blobs[id] = info
	m.blobData[id] = data
	return info, nil
}

// AddBlob stores data under a fixed id.
func (m *MockStorage) AddBlob(id, name, contentType string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[id] = &models.BlobInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		Type:       contentType,
		UploadedAt: time.Now(),
	}
	m.blobData[id] = data
}

func (m *MockStorage) Get(id string) (*models.BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return info, nil
}

func (m *MockStorage) Open(id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobData[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStorage) List(limit int) ([]*models.BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var blobs []*models.BlobInfo
	for _, info := range m.blobs {
		blobs = append(blobs, info)
		if limit > 0 && len(blobs) >= limit {
			break
		}
	}
	return blobs, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(m.blobs, id)
	delete(m.blobData, id)
	return nil
}

// Has reports whether a blob with id is stored.
func (m *MockStorage) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[id]
	return ok
}

// Len returns the number of stored blobs.
func (m *MockStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
