package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory task store. Atomic works on a copy of the state
// and swaps it in only when fn succeeds.
type MemStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{state: newMemState()}
}

// EnsureTable is a no-op for the memory store.
func (s *MemStore) EnsureTable(ctx context.Context) error { return nil }

// Atomic runs fn under the writer lock. Calling s's own methods from inside
// fn deadlocks; use tx instead.
func (s *MemStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	next := s.state.clone()
	if err := fn(&memTx{st: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

// GetTask retrieves a single task by ID.
func (s *MemStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.get(id)
}

// ListPrerequisites returns the ids id directly depends on.
func (s *MemStore) ListPrerequisites(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.prerequisites(id), nil
}

// ListDependents returns the ids that directly depend on id.
func (s *MemStore) ListDependents(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.dependents(id), nil
}

// EdgeExists reports whether dependentID already depends on prerequisiteID.
func (s *MemStore) EdgeExists(ctx context.Context, dependentID, prerequisiteID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.edgeExists(dependentID, prerequisiteID), nil
}

// List returns tasks matching f, newest first.
func (s *MemStore) List(ctx context.Context, f Filter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.list(f), nil
}

// Count returns total task count.
func (s *MemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.tasks), nil
}

// CountByStatus returns the number of tasks in status st.
func (s *MemStore) CountByStatus(ctx context.Context, st Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.state.tasks {
		if t.Status == st {
			n++
		}
	}
	return n, nil
}

type memTx struct {
	st *memState
}

func (tx *memTx) GetTask(ctx context.Context, id string) (*Task, error) {
	return tx.st.get(id)
}

func (tx *memTx) ListPrerequisites(ctx context.Context, id string) ([]string, error) {
	return tx.st.prerequisites(id), nil
}

func (tx *memTx) ListDependents(ctx context.Context, id string) ([]string, error) {
	return tx.st.dependents(id), nil
}

func (tx *memTx) EdgeExists(ctx context.Context, dependentID, prerequisiteID string) (bool, error) {
	return tx.st.edgeExists(dependentID, prerequisiteID), nil
}

func (tx *memTx) Create(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV7()).String()
	}
	if _, ok := tx.st.tasks[t.ID]; ok {
		return nil, fmt.Errorf("create task: id %s already exists", t.ID)
	}
	now := time.Now().Truncate(time.Microsecond)
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusPending
	}
	t.CompletedAt = nil
	if t.Status == StatusCompleted {
		t.CompletedAt = &now
	}
	t.DependsOn = []string{}

	stored := *t
	tx.st.tasks[t.ID] = &stored
	tx.st.seq++
	tx.st.order[t.ID] = tx.st.seq
	return t, nil
}

func (tx *memTx) Update(ctx context.Context, id string, p Patch) (*Task, error) {
	t, ok := tx.st.tasks[id]
	if !ok {
		return nil, fmt.Errorf("update task %s: %w", id, ErrNotFound)
	}
	now := time.Now().Truncate(time.Microsecond)
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.ClearDue {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.Status != nil {
		t.Status = *p.Status
		if t.Status != StatusCompleted {
			t.CompletedAt = nil
		} else if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
	}
	t.UpdatedAt = now
	return tx.st.get(id)
}

func (tx *memTx) Delete(ctx context.Context, id string) error {
	if _, ok := tx.st.tasks[id]; !ok {
		return fmt.Errorf("delete task %s: %w", id, ErrNotFound)
	}
	delete(tx.st.tasks, id)
	delete(tx.st.order, id)
	delete(tx.st.edges, id)
	for _, prereqs := range tx.st.edges {
		delete(prereqs, id)
	}
	return nil
}

func (tx *memTx) AttachEdge(ctx context.Context, dependentID, prerequisiteID string) error {
	if dependentID == prerequisiteID {
		return fmt.Errorf("attach %s -> %s: %w", dependentID, prerequisiteID, ErrSelfDependency)
	}
	for _, id := range []string{dependentID, prerequisiteID} {
		if _, ok := tx.st.tasks[id]; !ok {
			return fmt.Errorf("attach %s -> %s: task %s: %w", dependentID, prerequisiteID, id, ErrNotFound)
		}
	}
	if tx.st.edges[dependentID] == nil {
		tx.st.edges[dependentID] = make(map[string]struct{})
	}
	tx.st.edges[dependentID][prerequisiteID] = struct{}{}
	return nil
}

func (tx *memTx) DetachEdge(ctx context.Context, dependentID, prerequisiteID string) (bool, error) {
	if !tx.st.edgeExists(dependentID, prerequisiteID) {
		return false, nil
	}
	delete(tx.st.edges[dependentID], prerequisiteID)
	return true, nil
}

// memState is the snapshot MemStore guards. edges maps a dependent to the set
// of its prerequisites.
type memState struct {
	tasks map[string]*Task
	edges map[string]map[string]struct{}
	order map[string]int
	seq   int
}

func newMemState() *memState {
	return &memState{
		tasks: make(map[string]*Task),
		edges: make(map[string]map[string]struct{}),
		order: make(map[string]int),
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	c.seq = st.seq
	for id, t := range st.tasks {
		cp := *t
		c.tasks[id] = &cp
	}
	for id, prereqs := range st.edges {
		set := make(map[string]struct{}, len(prereqs))
		for p := range prereqs {
			set[p] = struct{}{}
		}
		c.edges[id] = set
	}
	for id, n := range st.order {
		c.order[id] = n
	}
	return c
}

func (st *memState) get(id string) (*Task, error) {
	t, ok := st.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	cp := *t
	cp.DependsOn = st.prerequisites(id)
	return &cp, nil
}

func (st *memState) prerequisites(id string) []string {
	out := make([]string, 0, len(st.edges[id]))
	for p := range st.edges[id] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (st *memState) dependents(id string) []string {
	out := []string{}
	for dep, prereqs := range st.edges {
		if _, ok := prereqs[id]; ok {
			out = append(out, dep)
		}
	}
	sort.Strings(out)
	return out
}

func (st *memState) edgeExists(dependentID, prerequisiteID string) bool {
	_, ok := st.edges[dependentID][prerequisiteID]
	return ok
}

func (st *memState) list(f Filter) []Task {
	var wanted map[string]bool
	if len(f.IDs) > 0 {
		wanted = make(map[string]bool, len(f.IDs))
		for _, id := range f.IDs {
			wanted[id] = true
		}
	}

	var out []Task
	for id, t := range st.tasks {
		if wanted != nil && !wanted[id] {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
			continue
		}
		if f.DueFrom != nil && (t.DueDate == nil || t.DueDate.Before(*f.DueFrom)) {
			continue
		}
		if f.DueTo != nil && (t.DueDate == nil || t.DueDate.After(*f.DueTo)) {
			continue
		}
		cp := *t
		cp.DependsOn = st.prerequisites(id)
		out = append(out, cp)
	}

	// Newest first, insertion order breaks timestamp ties.
	sort.Slice(out, func(i, j int) bool {
		return st.order[out[i].ID] > st.order[out[j].ID]
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
