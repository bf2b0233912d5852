// Package preview hands out revocable preview URLs for stored blobs, the
// server-side counterpart of browser object URLs.
package preview

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/filedrop/backend/internal/logging"
	"github.com/filedrop/backend/internal/models"
	"github.com/filedrop/backend/internal/staging"
	"github.com/filedrop/backend/internal/storage"
)

// DefaultBasePath is where preview URLs are served from.
const DefaultBasePath = "/api/previews/"

// BlobDeleter removes a blob once no preview references it.
type BlobDeleter interface {
	Delete(id string) error
}

// Registry maps preview tokens to blob ids. Each live token holds one
// reference on its blob; the blob is deleted when the last reference goes.
type Registry struct {
	mu       sync.RWMutex
	blobs    BlobDeleter
	basePath string
	tokens   map[string]string
	refs     map[string]int
	logger   *log.Logger
}

// NewRegistry creates a registry. blobs may be nil when blobs outlive their
// previews; basePath defaults to DefaultBasePath.
func NewRegistry(blobs BlobDeleter, basePath string) *Registry {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	return &Registry{
		blobs:    blobs,
		basePath: basePath,
		tokens:   make(map[string]string),
		refs:     make(map[string]int),
		logger:   logging.New("preview"),
	}
}

// Allocate mints a preview for the blob behind desc. Descriptors without a
// blob get no preview.
func (r *Registry) Allocate(desc models.FileDescriptor) staging.PreviewHandle {
	if desc.BlobID == "" {
		return nil
	}

	token := uuid.New().String()

	r.mu.Lock()
	r.tokens[token] = desc.BlobID
	r.refs[desc.BlobID]++
	r.mu.Unlock()

	return &Handle{registry: r, token: token, url: r.basePath + token}
}

// Resolve returns the blob id behind a live token.
func (r *Registry) Resolve(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blobID, ok := r.tokens[token]
	return blobID, ok
}

// Len returns the number of live previews.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// Refs returns how many live previews reference a blob.
func (r *Registry) Refs(blobID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refs[blobID]
}

// Reclaim deletes the blobs of a batch that no live preview references,
// e.g. duplicates dropped from the batch or a batch sent to a closed store.
// It returns how many blobs were deleted.
func (r *Registry) Reclaim(batch []models.FileDescriptor) int {
	if r.blobs == nil {
		return 0
	}

	var orphans []string
	r.mu.RLock()
	for _, d := range batch {
		if d.BlobID != "" && r.refs[d.BlobID] == 0 {
			orphans = append(orphans, d.BlobID)
		}
	}
	r.mu.RUnlock()

	deleted := 0
	for _, id := range orphans {
		err := r.blobs.Delete(id)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, storage.ErrNotFound):
		default:
			r.logger.Warnf("failed to reclaim blob %s: %v", id, err)
		}
	}
	return deleted
}

func (r *Registry) revoke(token string) {
	r.mu.Lock()
	blobID, ok := r.tokens[token]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.tokens, token)
	r.refs[blobID]--
	last := r.refs[blobID] <= 0
	if last {
		delete(r.refs, blobID)
	}
	r.mu.Unlock()

	if last && r.blobs != nil {
		if err := r.blobs.Delete(blobID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warnf("failed to delete blob %s: %v", blobID, err)
		}
	}
}

// Handle is a single revocable preview.
type Handle struct {
	registry *Registry
	token    string
	url      string
	once     sync.Once
}

// URL returns the preview URL; it stops resolving once released.
func (h *Handle) URL() string {
	return h.url
}

// Token returns the token part of the URL.
func (h *Handle) Token() string {
	return h.token
}

// Release revokes the preview. Only the first call has an effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.registry.revoke(h.token)
	})
}
