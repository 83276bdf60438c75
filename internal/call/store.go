package call

import (
	"sort"
	"sync"
)

// Store is the in-memory call record store. It maps call IDs to records and
// merges partial updates the way the backend returns them: fields absent
// from an update are left untouched.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Call
	missed  int64
}

// NewStore creates an empty call record store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Call)}
}

// Insert adds a call record, or merges the given data into an existing
// record with the same ID. It returns the stored record.
func (s *Store) Insert(c *Call) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[c.ID]
	if !ok {
		cp := *c
		s.records[c.ID] = &cp
		return s.records[c.ID]
	}
	mergeCall(existing, c)
	return existing
}

// Update applies fn to the record with the given ID under the store lock.
// It is a no-op if the record does not exist.
func (s *Store) Update(id string, fn func(*Call)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.records[id]; ok {
		fn(c)
	}
}

// Get returns a copy of the record with the given ID, or nil. Readers
// get a detached value so they never observe a concurrent Update.
func (s *Store) Get(id string) *Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// List returns copies of all records ordered by creation time, newest
// first.
func (s *Store) List() []*Call {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Call, 0, len(s.records))
	for _, c := range s.records {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MarkMissed transitions a record to the missed state and bumps the
// missed-call counter.
func (s *Store) MarkMissed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.records[id]; ok {
		c.State = StateMissed
	}
	s.missed++
}

// MissedCount returns the number of calls missed since startup.
func (s *Store) MissedCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missed
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// mergeCall copies the non-zero fields of src onto dst. Timestamps and
// references are only overwritten when the update carries them.
func mergeCall(dst, src *Call) {
	if src.Direction != "" {
		dst.Direction = src.Direction
	}
	if src.State != "" {
		dst.State = src.State
	}
	if src.PhoneNumber != "" {
		dst.PhoneNumber = src.PhoneNumber
	}
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	if !src.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
	if src.StartedAt != nil {
		dst.StartedAt = src.StartedAt
	}
	if src.EndedAt != nil {
		dst.EndedAt = src.EndedAt
	}
	if src.Partner != nil {
		dst.Partner = src.Partner
	}
	if src.Activity != nil {
		dst.Activity = src.Activity
	}
}
