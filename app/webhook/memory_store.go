package webhook

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const DefaultMemoryStoreSize = 10000

type memoryEntry struct {
	key       string
	expiresAt time.Time
}

// MemoryStore is a process-local KeyStore bounded to a fixed number of keys.
// When full, the oldest inserted key is evicted. It does not survive a
// restart and is not shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	maxKeys int
	order   *list.List
	index   map[string]*list.Element
	now     func() time.Time
}

func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMemoryStoreSize
	}
	return &MemoryStore{
		maxKeys: maxKeys,
		order:   list.New(),
		index:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.live(key), nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) {
		return false, nil
	}

	elem := s.order.PushBack(&memoryEntry{key: key, expiresAt: s.now().Add(ttl)})
	s.index[key] = elem
	for s.order.Len() > s.maxKeys {
		s.remove(s.order.Front())
	}
	return true, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.order.Len()
}

// live reports whether key is present and unexpired, dropping it if expired.
// Callers hold s.mu.
func (s *MemoryStore) live(key string) bool {
	elem, ok := s.index[key]
	if !ok {
		return false
	}
	entry := elem.Value.(*memoryEntry)
	if s.now().After(entry.expiresAt) {
		s.remove(elem)
		return false
	}
	return true
}

func (s *MemoryStore) remove(elem *list.Element) {
	entry := s.order.Remove(elem).(*memoryEntry)
	delete(s.index, entry.key)
}
