package testutil

import (
	"fmt"
	"sync"

	"github.com/filedrop/backend/internal/models"
	"github.com/filedrop/backend/internal/staging"
)

// PreviewRecorder is a staging.PreviewAllocator that records every handle it
// hands out so tests can check nothing leaks.
type PreviewRecorder struct {
	mu      sync.Mutex
	next    int
	handles []*RecordedPreview
}

// RecordedPreview is a handle created by PreviewRecorder.
type RecordedPreview struct {
	url      string
	Path     string
	mu       sync.Mutex
	releases int
}

// NewPreviewRecorder creates an empty recorder.
func NewPreviewRecorder() *PreviewRecorder {
	return &PreviewRecorder{}
}

func (r *PreviewRecorder) Allocate(desc models.FileDescriptor) staging.PreviewHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := &RecordedPreview{url: fmt.Sprintf("preview://%d", r.next), Path: desc.Path}
	r.handles = append(r.handles, h)
	return h
}

// Allocated returns how many handles have been created.
func (r *PreviewRecorder) Allocated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Live returns the URLs of handles that have not been released.
func (r *PreviewRecorder) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var live []string
	for _, h := range r.handles {
		if h.Releases() == 0 {
			live = append(live, h.url)
		}
	}
	return live
}

// Released returns how many handles have been released at least once.
func (r *PreviewRecorder) Released() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, h := range r.handles {
		if h.Releases() > 0 {
			n++
		}
	}
	return n
}

// Handle returns the i-th handle created.
func (r *PreviewRecorder) Handle(i int) *RecordedPreview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[i]
}

func (h *RecordedPreview) URL() string {
	return h.url
}

func (h *RecordedPreview) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
}

// Releases returns how many times Release was called.
func (h *RecordedPreview) Releases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}
