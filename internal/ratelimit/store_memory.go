package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memoryItem struct {
	raw       []byte
	expiresAt time.Time
}

// MemoryStore keeps entries in process memory in their encoded form.
// It does not survive restarts and is meant for tests and single-node development.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
	log   *zap.Logger
}

func NewMemoryStore(now func() time.Time, log *zap.Logger) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   now,
		log:   log.Named("ratelimit.memory"),
	}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(key), nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(*Entry)) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.loadLocked(key)
	fn(&entry)
	if entry.IsZero() {
		delete(s.items, key)
		return entry, nil
	}

	raw, err := encodeEntry(entry)
	if err != nil {
		return Entry{}, err
	}
	item := memoryItem{raw: raw}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return entry, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// PutRaw stores an encoded payload as-is.
func (s *MemoryStore) PutRaw(key string, raw []byte) {
	s.mu.Lock()
	s.items[key] = memoryItem{raw: raw}
	s.mu.Unlock()
}

func (s *MemoryStore) loadLocked(key string) Entry {
	item, ok := s.items[key]
	if !ok {
		return Entry{}
	}
	if !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		return Entry{}
	}
	entry, ok := decodeEntry(item.raw)
	if !ok {
		s.log.Warn("discarding corrupt rate limit entry", zap.String("key", key))
	}
	return entry
}
