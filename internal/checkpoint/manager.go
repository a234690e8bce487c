// Package checkpoint keeps the durable resume cursor for a crawl. Work items
// may finish out of order, so the persisted value is a low-water-mark: the
// highest index such that it and every index before it have settled.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/metrics"
)

// None is the cursor value before any item has completed.
const None int64 = -1

// State is the persisted checkpoint record.
type State struct {
	Crawl         string    `json:"crawl"`
	LastCompleted int64     `json:"last_completed"`
	LastID        string    `json:"last_id,omitempty"`
	Version       uint64    `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists checkpoint state atomically: after a crash either the new
// state or the previous one is loadable, never a partial write.
type Store interface {
	Load(ctx context.Context, crawl string) (State, bool, error)
	Save(ctx context.Context, state State) error
}

// Manager tracks out-of-order completions and persists the low-water-mark.
type Manager struct {
	mu      sync.Mutex
	store   Store
	clock   crawler.Clock
	logger  *zap.Logger
	state   State
	pending map[int64]string
	loaded  bool
}

// New creates a Manager for the named crawl.
func New(crawl string, store Store, clock crawler.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		clock:   clock,
		logger:  logger,
		state:   State{Crawl: crawl, LastCompleted: None},
		pending: make(map[int64]string),
	}
}

// Load reads the durable cursor and returns the last completed index, or
// None for a fresh crawl. Enumeration resumes at the returned value plus one.
func (m *Manager) Load(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok, err := m.store.Load(ctx, m.state.Crawl)
	if err != nil {
		return None, crawler.NewStorageError("load checkpoint", err)
	}
	if ok {
		if st.LastCompleted < None {
			return None, crawler.NewStorageError("load checkpoint",
				fmt.Errorf("corrupt cursor %d", st.LastCompleted))
		}
		st.Crawl = m.state.Crawl
		m.state = st
	}
	m.pending = make(map[int64]string)
	m.loaded = true
	metrics.SetCheckpoint(m.state.Crawl, m.state.LastCompleted)
	return m.state.LastCompleted, nil
}

// Advance marks index settled. When that moves the low-water-mark, the new
// cursor is written durably before Advance returns. If the write fails a
// StorageError is returned and the in-memory cursor does not move.
func (m *Manager) Advance(ctx context.Context, index int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return fmt.Errorf("advance before load")
	}
	if index <= m.state.LastCompleted {
		return nil
	}
	m.pending[index] = id

	mark, lastID := m.state.LastCompleted, m.state.LastID
	for {
		nextID, ok := m.pending[mark+1]
		if !ok {
			break
		}
		mark++
		lastID = nextID
	}
	if mark == m.state.LastCompleted {
		return nil
	}

	next := State{
		Crawl:         m.state.Crawl,
		LastCompleted: mark,
		LastID:        lastID,
		Version:       m.state.Version + 1,
		UpdatedAt:     m.clock.Now(),
	}
	if err := m.store.Save(ctx, next); err != nil {
		return crawler.NewStorageError("save checkpoint", err)
	}
	for i := m.state.LastCompleted + 1; i <= mark; i++ {
		delete(m.pending, i)
	}
	m.state = next
	metrics.SetCheckpoint(next.Crawl, next.LastCompleted)
	m.logger.Debug("checkpoint advanced",
		zap.Int64("last_completed", next.LastCompleted),
		zap.Uint64("version", next.Version),
	)
	return nil
}

// Position returns the last durably completed index.
func (m *Manager) Position() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastCompleted
}

// Pending returns how many settled items are waiting behind the mark.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// State returns a copy of the current durable state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
