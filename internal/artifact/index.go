package artifact

import (
	"context"
	"sort"
	"sync"

	"photobooth/internal/domain"
)

// Index is the id to record mapping. Implementations must make PutIfAbsent
// atomic: of two concurrent calls for one id exactly one reports inserted.
type Index interface {
	Get(ctx context.Context, id string) (Record, error)
	PutIfAbsent(ctx context.Context, rec Record) (stored Record, inserted bool, err error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
}

// MemoryIndex is a process-local Index. Its contents are rebuilt from disk by
// Store.Reconcile on startup.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]Record)}
}

func (m *MemoryIndex) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *MemoryIndex) PutIfAbsent(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.ID]; ok {
		return existing, false, nil
	}
	m.records[rec.ID] = rec
	return rec, true, nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryIndex) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var _ Index = (*MemoryIndex)(nil)
