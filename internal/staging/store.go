// Package staging holds the selection of files a single upload widget has
// accepted but not yet uploaded.
package staging

import (
	"fmt"
	"sync"

	"github.com/filedrop/backend/internal/models"
)

// MaxUploadSize is the ceiling on the aggregate size of a selection, in bytes.
const MaxUploadSize int64 = 25_000_000

// SizeLimitMessage is shown verbatim to the user when a batch is rejected.
const SizeLimitMessage = "Maximum upload size of 25MB."

// SizeLimitError records a rejected batch.
type SizeLimitError struct {
	Total int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return SizeLimitMessage
}

// PreviewHandle is a revocable preview resource owned by one staged file.
// Release must be safe to call more than once.
type PreviewHandle interface {
	URL() string
	Release()
}

// PreviewAllocator creates preview handles for incoming files.
type PreviewAllocator interface {
	Allocate(desc models.FileDescriptor) PreviewHandle
}

type entry struct {
	file   models.StagedFile
	handle PreviewHandle
}

func (e entry) release() {
	if e.handle != nil {
		e.handle.Release()
	}
}

// Store owns a selection and its validation error. Mutation only happens
// through AddFiles, RemoveFile and Close.
type Store struct {
	mu        sync.Mutex
	previews  PreviewAllocator
	entries   []entry
	err       *SizeLimitError
	version   uint64
	closed    bool
	observers map[int]func(models.Selection)
	order     []int
	nextObs   int
}

// NewStore creates an empty store in the clean state. previews may be nil,
// in which case staged files carry no preview.
func NewStore(previews PreviewAllocator) *Store {
	return &Store{
		previews:  previews,
		observers: make(map[int]func(models.Selection)),
	}
}

// AddFiles merges a batch into the selection. A batch entry whose path is
// already staged replaces the old entry and moves to the end. If the merged
// selection would exceed MaxUploadSize the whole batch is rejected, the
// selection is left untouched and the validation error is set; otherwise the
// error is cleared.
func (s *Store) AddFiles(batch []models.FileDescriptor) models.Selection {
	s.mu.Lock()
	if s.closed {
		snap := s.emptySelection()
		s.mu.Unlock()
		return snap
	}

	incoming := s.allocate(dedupByPath(batch))
	inBatch := make(map[string]struct{}, len(incoming))
	for _, e := range incoming {
		inBatch[e.file.Path] = struct{}{}
	}

	candidate := make([]entry, 0, len(s.entries)+len(incoming))
	var replaced []entry
	for _, e := range s.entries {
		if _, ok := inBatch[e.file.Path]; ok {
			replaced = append(replaced, e)
			continue
		}
		candidate = append(candidate, e)
	}
	candidate = append(candidate, incoming...)

	total := totalSize(candidate)
	var released []entry
	if total > MaxUploadSize {
		s.err = &SizeLimitError{Total: total, Limit: MaxUploadSize}
		released = incoming
	} else {
		s.entries = candidate
		s.err = nil
		released = replaced
	}
	s.version++

	snap, observers := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	for _, e := range released {
		e.release()
	}
	notify(observers, snap)
	return snap
}

// RemoveFile removes every staged file whose display name equals name and
// releases their previews. The validation error is left as is.
func (s *Store) RemoveFile(name string) models.Selection {
	sel, _ := s.RemoveFileN(name)
	return sel
}

// RemoveFileN is RemoveFile that also reports how many files were removed,
// decided under the same lock as the removal.
func (s *Store) RemoveFileN(name string) (models.Selection, int) {
	s.mu.Lock()
	if s.closed {
		snap := s.emptySelection()
		s.mu.Unlock()
		return snap, 0
	}

	kept := make([]entry, 0, len(s.entries))
	var removed []entry
	for _, e := range s.entries {
		if e.file.Name == name {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) > 0 {
		s.entries = kept
		s.version++
	}

	snap := s.snapshotLocked()
	var observers []func(models.Selection)
	if len(removed) > 0 {
		observers = s.observersLocked()
	}
	s.mu.Unlock()

	for _, e := range removed {
		e.release()
	}
	notify(observers, snap)
	return snap, len(removed)
}

// Snapshot returns a copy of the current selection and error.
func (s *Store) Snapshot() models.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Err returns the current validation error, or nil when the store is clean.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return nil
	}
	return s.err
}

// Len returns the number of staged files.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Subscribe registers fn to be called with a fresh snapshot after every
// change. Observers run outside the store lock, in registration order, on
// the goroutine that made the change. Changes made concurrently may be
// delivered out of order; compare Selection.Version to keep the latest.
// The returned func unregisters fn.
func (s *Store) Subscribe(fn func(models.Selection)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.observers, id)
			for i, o := range s.order {
				if o == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Close tears the store down: every preview is released, the selection is
// emptied and observers are dropped. Calls after the first are no-ops.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	s.entries = nil
	s.err = nil
	s.observers = make(map[int]func(models.Selection))
	s.order = nil
	s.mu.Unlock()

	for _, e := range entries {
		e.release()
	}
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// String is used in log lines.
func (s *Store) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("%d files, %d/%d bytes", len(snap.Files), snap.TotalSize, snap.Limit)
}

func (s *Store) allocate(batch []models.FileDescriptor) []entry {
	out := make([]entry, len(batch))
	for i, d := range batch {
		e := entry{file: models.StagedFile{
			Path: d.Path,
			Name: d.Name,
			Size: d.Size,
			Type: d.Type,
		}}
		e.file.Label = e.file.ShortName()
		if s.previews != nil {
			e.handle = s.previews.Allocate(d)
			if e.handle != nil {
				e.file.Preview = e.handle.URL()
			}
		}
		out[i] = e
	}
	return out
}

func (s *Store) snapshotLocked() models.Selection {
	files := make([]models.StagedFile, len(s.entries))
	for i, e := range s.entries {
		files[i] = e.file
	}
	sel := models.Selection{
		Version:   s.version,
		Files:     files,
		TotalSize: totalSize(s.entries),
		Limit:     MaxUploadSize,
	}
	if s.err != nil {
		sel.Error = s.err.Error()
	}
	return sel
}

func (s *Store) observersLocked() []func(models.Selection) {
	out := make([]func(models.Selection), 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.observers[id])
	}
	return out
}

// emptySelection must be called with s.mu held.
func (s *Store) emptySelection() models.Selection {
	return models.Selection{Version: s.version, Files: []models.StagedFile{}, Limit: MaxUploadSize}
}

// dedupByPath keeps the last occurrence of each path, in the position of
// that last occurrence.
func dedupByPath(batch []models.FileDescriptor) []models.FileDescriptor {
	last := make(map[string]int, len(batch))
	for i, d := range batch {
		last[d.Path] = i
	}
	if len(last) == len(batch) {
		return batch
	}
	out := make([]models.FileDescriptor, 0, len(last))
	for i, d := range batch {
		if last[d.Path] == i {
			out = append(out, d)
		}
	}
	return out
}

func totalSize(entries []entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.file.Size
	}
	return total
}

func notify(observers []func(models.Selection), snap models.Selection) {
	for _, fn := range observers {
		fn(snap)
	}
}
