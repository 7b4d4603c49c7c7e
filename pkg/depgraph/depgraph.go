// Package depgraph decides whether task dependency edges may be added and
// whether a task may be completed.
//
// The engine is read-only over a task.Reader and keeps no state between
// calls. A positive Decision is only valid for the graph it was computed on:
// callers must run the check again inside the same atomic scope as the write
// it gates (see task.Store.Atomic).
package depgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tasktrack/pkg/task"
)

// ErrUnknownTask is returned when a referenced task does not exist.
var ErrUnknownTask = errors.New("unknown task")

// Reason is the machine-readable code attached to a Decision.
type Reason string

const (
	ReasonOK                     Reason = "ok"
	ReasonAlreadyExists          Reason = "already_exists"
	ReasonSelfDependency         Reason = "self_dependency"
	ReasonWouldCreateCycle       Reason = "would_create_cycle"
	ReasonIncompleteDependencies Reason = "incomplete_dependencies"
)

// Decision is the engine's verdict on a proposed graph or status change.
type Decision struct {
	Allow  bool     `json:"allow"`
	Reason Reason   `json:"reason"`
	Detail []string `json:"detail,omitempty"` // task ids backing the reason
}

func allow(r Reason) Decision { return Decision{Allow: true, Reason: r} }

func deny(r Reason, ids ...string) Decision {
	return Decision{Allow: false, Reason: r, Detail: ids}
}

// Engine evaluates dependency invariants against a task.Reader.
type Engine struct{}

// New creates an Engine.
func New() *Engine {
	return &Engine{}
}

// CanAttach reports whether dependentID may start depending on
// prerequisiteID without introducing a cycle.
func (e *Engine) CanAttach(ctx context.Context, r task.Reader, dependentID, prerequisiteID string) (Decision, error) {
	if err := mustExist(ctx, r, dependentID); err != nil {
		return Decision{}, err
	}
	if err := mustExist(ctx, r, prerequisiteID); err != nil {
		return Decision{}, err
	}
	if dependentID == prerequisiteID {
		return deny(ReasonSelfDependency, dependentID), nil
	}

	exists, err := r.EdgeExists(ctx, dependentID, prerequisiteID)
	if err != nil {
		return Decision{}, fmt.Errorf("check edge %s -> %s: %w", dependentID, prerequisiteID, err)
	}
	if exists {
		return allow(ReasonAlreadyExists), nil
	}

	path, err := findPath(ctx, r, prerequisiteID, dependentID)
	if err != nil {
		return Decision{}, err
	}
	if path != nil {
		return deny(ReasonWouldCreateCycle, path...), nil
	}
	return allow(ReasonOK), nil
}

// CanComplete reports whether taskID may move to completed. Only direct
// prerequisites are inspected: every completed prerequisite was itself gated
// the same way, so the transitive closure is already complete.
func (e *Engine) CanComplete(ctx context.Context, r task.Reader, taskID string) (Decision, error) {
	t, err := r.GetTask(ctx, taskID)
	if err != nil {
		return Decision{}, lookupErr(taskID, err)
	}
	if t.Status == task.StatusCompleted {
		return allow(ReasonOK), nil
	}

	prereqs, err := r.ListPrerequisites(ctx, taskID)
	if err != nil {
		return Decision{}, fmt.Errorf("list prerequisites of %s: %w", taskID, err)
	}

	loaded := make(map[string]*task.Task, len(prereqs))
	for _, id := range prereqs {
		p, err := r.GetTask(ctx, id)
		if errors.Is(err, task.ErrNotFound) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("get prerequisite %s of %s: %w", id, taskID, err)
		}
		loaded[id] = p
	}
	return e.Completion(t, prereqs, loaded), nil
}

// Completion is CanComplete over prerequisites the caller already loaded,
// for batch reads. Ids missing from loaded count as incomplete, since a
// dangling edge cannot prove completion.
func (e *Engine) Completion(t *task.Task, prereqIDs []string, loaded map[string]*task.Task) Decision {
	if t.Status == task.StatusCompleted {
		return allow(ReasonOK)
	}
	var incomplete []string
	for _, id := range prereqIDs {
		if p, ok := loaded[id]; !ok || p.Status != task.StatusCompleted {
			incomplete = append(incomplete, id)
		}
	}
	if len(incomplete) > 0 {
		sort.Strings(incomplete)
		return deny(ReasonIncompleteDependencies, incomplete...)
	}
	return allow(ReasonOK)
}

func mustExist(ctx context.Context, r task.Reader, id string) error {
	if _, err := r.GetTask(ctx, id); err != nil {
		return lookupErr(id, err)
	}
	return nil
}

func lookupErr(id string, err error) error {
	if errors.Is(err, task.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return fmt.Errorf("get task %s: %w", id, err)
}
