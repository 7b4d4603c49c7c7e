package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory activity Store. Events are kept in append order.
type MemStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// EnsureTable is a no-op for the memory store.
func (s *MemStore) EnsureTable(ctx context.Context) error { return nil }

// Append stores a new event at the head of the chain.
func (s *MemStore) Append(ctx context.Context, eventType, taskID, actor string, content map[string]any) (*Event, error) {
	if content == nil {
		content = map[string]any{}
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevHash := ""
	if n := len(s.events); n > 0 {
		prevHash = s.events[n-1].Hash
	}
	e := Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      eventType,
		TaskID:    taskID,
		Actor:     actor,
		Content:   content,
		Timestamp: time.Now().Truncate(time.Microsecond),
		PrevHash:  prevHash,
	}
	e.Hash = computeHash(prevHash, e.ID, e.Type, e.TaskID, e.Actor, e.Timestamp, contentJSON)
	s.events = append(s.events, e)
	return &e, nil
}

// Get retrieves a single event by ID.
func (s *MemStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].ID == id {
			e := s.events[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("get event %s: %w", id, ErrNotFound)
}

// Recent returns the most recent events, newest first.
func (s *MemStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	limit = ClampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// ByTask returns a task's events in chronological order.
func (s *MemStore) ByTask(ctx context.Context, taskID string, limit int) ([]Event, error) {
	limit = ClampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if len(out) >= limit {
			break
		}
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Since returns events appended after afterID, oldest first.
func (s *MemStore) Since(ctx context.Context, afterID string, limit int) ([]Event, error) {
	limit = ClampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].ID != afterID {
			continue
		}
		rest := s.events[i+1:]
		if len(rest) > limit {
			rest = rest[:limit]
		}
		out := make([]Event, len(rest))
		copy(out, rest)
		return out, nil
	}
	return nil, nil
}

// Count returns the total number of events.
func (s *MemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

// VerifyChain walks the chain in append order and checks every link.
func (s *MemStore) VerifyChain(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prevHash := ""
	for i := range s.events {
		if err := verifyLink(i, &s.events[i], prevHash, nil); err != nil {
			return err
		}
		prevHash = s.events[i].Hash
	}
	return nil
}
