package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps conversation logs in process memory. Good enough for a
// single-node deployment and for tests; payloads round-trip through JSON so
// it behaves like the Redis store.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) (*Log, error) {
	if threadID == "" {
		return nil, ErrEmptyThreadID
	}

	s.mu.RLock()
	payload, ok := s.logs[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrThreadNotFound
	}

	var l Log
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("unmarshal conversation log: %w", err)
	}
	return &l, nil
}

func (s *MemoryStore) Save(ctx context.Context, l *Log) error {
	if l == nil {
		return ErrNilLog
	}
	if err := l.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal conversation log: %w", err)
	}

	s.mu.Lock()
	s.logs[l.ThreadID] = payload
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	delete(s.logs, threadID)
	s.mu.Unlock()
	return nil
}
