package stock

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process. Per-group exclusion comes from the
// Locker, so a single instance is only safe within one process.
type MemoryStore struct {
	locker Locker

	mu      sync.RWMutex
	records map[string]Record
	claimed map[string]struct{}
}

func NewMemoryStore(locker Locker) *MemoryStore {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &MemoryStore{
		locker:  locker,
		records: make(map[string]Record),
		claimed: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Get(ctx context.Context, groupID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[groupID]
	if !ok {
		return Record{}, ErrGroupNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.GroupID]; ok {
		return ErrAlreadyExists
	}
	s.records[rec.GroupID] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, groupID string) error {
	unlock, err := s.locker.Lock(ctx, groupID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[groupID]; !ok {
		return ErrGroupNotFound
	}
	delete(s.records, groupID)
	return nil
}

func (s *MemoryStore) Mutate(ctx context.Context, groupID string, m Mutation) (Record, error) {
	unlock, err := s.locker.Lock(ctx, groupID)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	s.mu.RLock()
	current, ok := s.records[groupID]
	_, seen := s.claimed[m.RequestID]
	s.mu.RUnlock()

	if !ok {
		return Record{}, ErrGroupNotFound
	}
	if m.RequestID != "" && seen {
		return Record{}, ErrDuplicateRequest
	}

	next, err := m.Apply(current)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	s.records[groupID] = next
	if m.RequestID != "" {
		s.claimed[m.RequestID] = struct{}{}
	}
	s.mu.Unlock()

	return next, nil
}

// MemoryDirectory is a GroupDirectory backed by a map.
type MemoryDirectory struct {
	mu     sync.RWMutex
	groups map[string]Group
}

func NewMemoryDirectory(groups ...Group) *MemoryDirectory {
	d := &MemoryDirectory{groups: make(map[string]Group, len(groups))}
	for _, g := range groups {
		d.groups[g.ID] = g
	}
	return d
}

func (d *MemoryDirectory) Put(g Group) {
	d.mu.Lock()
	d.groups[g.ID] = g
	d.mu.Unlock()
}

func (d *MemoryDirectory) Lookup(ctx context.Context, groupID string) (Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}
