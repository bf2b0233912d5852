package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filedrop/backend/internal/models"
)

// ErrNotFound is returned for unknown blob ids.
var ErrNotFound = errors.New("blob not found")

// Store defines the interface for dropped-file blob storage.
type Store interface {
	Save(name, contentType string, r io.Reader) (*models.BlobInfo, error)
	SaveBytes(name, contentType string, data []byte) (*models.BlobInfo, error)
	Get(id string) (*models.BlobInfo, error)
	Open(id string) (io.ReadCloser, error)
	List(limit int) ([]*models.BlobInfo, error)
	Delete(id string) error
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	blobs     map[string]*models.BlobInfo
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		blobs:     make(map[string]*models.BlobInfo),
	}, nil
}

// Save writes the content of r to a new blob.
func (s *LocalStore) Save(name, contentType string, r io.Reader) (*models.BlobInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating blob: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing blob: %w", err)
	}

	info := &models.BlobInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		Type:       contentType,
		UploadedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = info

	return info, nil
}

// SaveBytes writes data to a new blob.
func (s *LocalStore) SaveBytes(name, contentType string, data []byte) (*models.BlobInfo, error) {
	return s.Save(name, contentType, bytes.NewReader(data))
}

// Get retrieves blob metadata by ID.
func (s *LocalStore) Get(id string) (*models.BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return info, nil
}

// Open returns a reader over the blob content. The caller closes it.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	_, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	f, err := os.Open(filepath.Join(s.uploadDir, id))
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// List returns the most recent blobs.
func (s *LocalStore) List(limit int) ([]*models.BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.BlobInfo, 0, len(s.blobs))
	for _, info := range s.blobs {
		list = append(list, info)
	}

	// Sort by UploadedAt desc
	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a blob from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}

	delete(s.blobs, id)
	return nil
}

// Purge deletes every blob file left in the upload directory, including ones
// from a previous run that this store never indexed.
func (s *LocalStore) Purge() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return 0, fmt.Errorf("reading upload directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.uploadDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	s.blobs = make(map[string]*models.BlobInfo)
	return removed, nil
}
