package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		records: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.records[key]; ok && now.Before(e.expiresAt) {
		rec := e.rec
		return &rec, false, nil
	}

	rec := Record{State: StateInFlight, Fingerprint: fingerprint, CreatedAt: now.UTC()}
	s.records[key] = memoryEntry{rec: rec, expiresAt: now.Add(InFlightTTL)}
	return &rec, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.records[key]; !ok || !now.Before(e.expiresAt) {
		return ErrNotClaimed
	}
	rec.State = StateCompleted
	s.records[key] = memoryEntry{rec: rec, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}
