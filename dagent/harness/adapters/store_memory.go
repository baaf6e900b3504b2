package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
)

// MemoryStateStore keeps checkpoints in process memory. Checkpoints are stored as
// JSON so callers never share state with the store.
type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: make(map[string][]byte)}
}

func (s *MemoryStateStore) Save(_ context.Context, cp ports.Checkpoint) error {
	cp.UpdatedAt = time.Now()
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	s.mu.Lock()
	s.items[cp.ConversationID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Load(_ context.Context, conversationID string) (ports.Checkpoint, error) {
	s.mu.RLock()
	raw, ok := s.items[conversationID]
	s.mu.RUnlock()
	if !ok {
		return ports.Checkpoint{ConversationID: conversationID}, ports.ErrNoCheckpoint
	}
	var cp ports.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return cp, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

func (s *MemoryStateStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ ports.StateStore = (*MemoryStateStore)(nil)
