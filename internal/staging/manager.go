package staging

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/filedrop/backend/internal/logging"
)

// DefaultMaxWidgets limits concurrently open widgets to bound held blobs.
const DefaultMaxWidgets = 256

// WidgetKeepAliveWindow protects recently used widgets from idle cleanup.
const WidgetKeepAliveWindow = 2 * time.Minute

// Manager owns one Store per upload widget instance.
type Manager struct {
	widgets    map[string]*widgetState
	mu         sync.RWMutex
	previews   PreviewAllocator
	maxWidgets int
	logger     *log.Logger
	now        func() time.Time
}

type widgetState struct {
	store        *Store
	createdAt    time.Time
	lastAccessed time.Time
}

// NewManager creates a widget manager whose stores allocate previews from
// previews. maxWidgets <= 0 selects DefaultMaxWidgets.
func NewManager(previews PreviewAllocator, maxWidgets int) *Manager {
	if maxWidgets <= 0 {
		maxWidgets = DefaultMaxWidgets
	}
	return &Manager{
		widgets:    make(map[string]*widgetState),
		previews:   previews,
		maxWidgets: maxWidgets,
		logger:     logging.New("widgets"),
		now:        time.Now,
	}
}

// Create opens a new widget and returns its id and store. When the manager
// is full the least recently used widget is torn down first.
func (m *Manager) Create() (string, *Store) {
	id := uuid.New().String()
	store := NewStore(m.previews)

	m.mu.Lock()
	evicted := m.evictLocked()
	now := m.now()
	m.widgets[id] = &widgetState{store: store, createdAt: now, lastAccessed: now}
	m.mu.Unlock()

	for _, state := range evicted {
		state.store.Close()
	}
	m.logger.Debugf("opened widget %s", shortID(id))
	return id, store
}

// Get returns the store of a widget and marks it as used.
func (m *Manager) Get(id string) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.widgets[id]
	if !ok {
		return nil, false
	}
	state.lastAccessed = m.now()
	return state.store, true
}

// Touch refreshes a widget's last access time.
func (m *Manager) Touch(id string) bool {
	_, ok := m.Get(id)
	return ok
}

// Delete tears a widget down, releasing every preview it holds.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	state, ok := m.widgets[id]
	if ok {
		delete(m.widgets, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	state.store.Close()
	m.logger.Debugf("closed widget %s", shortID(id))
	return true
}

// Count returns the number of open widgets.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.widgets)
}

// CleanupIdle tears down widgets not accessed within maxAge and returns how
// many were removed.
func (m *Manager) CleanupIdle(maxAge time.Duration) int {
	now := m.now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-WidgetKeepAliveWindow)

	m.mu.Lock()
	var stale []*widgetState
	for id, state := range m.widgets {
		if state.lastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.lastAccessed.Before(cutoff) {
			stale = append(stale, state)
			delete(m.widgets, id)
			m.logger.Infof("cleaned up idle widget %s (last accessed: %s ago)",
				shortID(id), now.Sub(state.lastAccessed).Round(time.Second))
		}
	}
	m.mu.Unlock()

	for _, state := range stale {
		state.store.Close()
	}
	return len(stale)
}

// Close tears down every widget.
func (m *Manager) Close() {
	m.mu.Lock()
	widgets := m.widgets
	m.widgets = make(map[string]*widgetState)
	m.mu.Unlock()

	for _, state := range widgets {
		state.store.Close()
	}
}

// evictLocked frees room for one more widget, least recently used first.
// The caller closes the returned stores after releasing m.mu.
func (m *Manager) evictLocked() []*widgetState {
	if len(m.widgets) < m.maxWidgets {
		return nil
	}

	ids := make([]string, 0, len(m.widgets))
	for id := range m.widgets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.widgets[ids[i]].lastAccessed.Before(m.widgets[ids[j]].lastAccessed)
	})

	toFree := len(m.widgets) - m.maxWidgets + 1
	evicted := make([]*widgetState, 0, toFree)
	for _, id := range ids[:toFree] {
		evicted = append(evicted, m.widgets[id])
		delete(m.widgets, id)
		m.logger.Warnf("evicted widget %s to stay under %d open widgets", shortID(id), m.maxWidgets)
	}
	return evicted
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
