package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
)

// MockStore implements storage.Store with in-memory state for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu       sync.Mutex
	settings *storage.SettingsRecord
	closures []storage.ClosureRecord

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// Size value returned by SizeBytes()
	Size int64
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		errors: make(map[string]error),
		Size:   1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockStore) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

func (m *MockStore) GetSettings() (*storage.SettingsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetSettings"); err != nil {
		return nil, err
	}
	if m.settings == nil {
		return nil, nil
	}
	cp := *m.settings
	return &cp, nil
}

func (m *MockStore) PutSettings(rec storage.SettingsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PutSettings"); err != nil {
		return err
	}
	rec.SavedAt = time.Now().UTC()
	m.settings = &rec
	return nil
}

func (m *MockStore) AppendClosure(rec storage.ClosureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AppendClosure"); err != nil {
		return err
	}
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = time.Now().UTC()
	}
	m.closures = append(m.closures, rec)
	return nil
}

func (m *MockStore) ListClosures(limit int) ([]storage.ClosureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ListClosures"); err != nil {
		return nil, err
	}
	result := make([]storage.ClosureRecord, len(m.closures))
	copy(result, m.closures)
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClosedAt.After(result[j].ClosedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockStore) PruneClosures(olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PruneClosures"); err != nil {
		return 0, err
	}
	kept := m.closures[:0]
	pruned := 0
	for _, rec := range m.closures {
		if rec.ClosedAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	m.closures = kept
	return pruned, nil
}

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error {
	return nil
}
