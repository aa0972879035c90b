package billing

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Store defines the interface for record storage
type Store interface {
	// Create inserts a new record. The id must be set and unused.
	Create(record *BillingRecord) error

	// Get returns a copy of the record
	Get(id string) (*BillingRecord, error)

	// List returns copies of all records in creation order
	List() ([]*BillingRecord, error)

	// Update applies mutate to a private copy of the record and publishes
	// the result atomically. If mutate returns an error nothing changes.
	Update(id string, mutate func(*BillingRecord) error) (*BillingRecord, error)
}

// entry holds one record. Writers serialize on mu; readers load the
// published snapshot without locking, so they never see a half-applied update.
type entry struct {
	mu  sync.Mutex
	rec atomic.Pointer[BillingRecord]
}

// MemoryStore implements Store in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
	}
}

// Create inserts a new record
func (s *MemoryStore) Create(record *BillingRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("creating record: %w", invalid("id", "is required"))
	}

	e := &entry{}
	e.rec.Store(record.Clone())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[record.ID]; exists {
		return fmt.Errorf("creating record %s: id already used", record.ID)
	}
	s.entries[record.ID] = e
	s.order = append(s.order, record.ID)
	return nil
}

func (s *MemoryStore) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// Get returns a copy of the record
func (s *MemoryStore) Get(id string) (*BillingRecord, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.rec.Load().Clone(), nil
}

// List returns copies of all records in creation order
func (s *MemoryStore) List() ([]*BillingRecord, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.RUnlock()

	records := make([]*BillingRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.rec.Load().Clone())
	}
	return records, nil
}

// Update applies mutate to a copy of the record and publishes it.
// The id cannot change and a terminal record cannot change status.
func (s *MemoryStore) Update(id string, mutate func(*BillingRecord) error) (*BillingRecord, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.rec.Load()
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	next.ID = cur.ID
	if cur.Status.Terminal() && next.Status != cur.Status {
		return nil, fmt.Errorf("record %s: %s to %s: %w", id, cur.Status, next.Status, ErrInvalidTransition)
	}

	e.rec.Store(next)
	return next.Clone(), nil
}
