package task

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a task id does not resolve.
var ErrNotFound = errors.New("task not found")

// ErrSelfDependency is returned when an edge would point a task at itself.
var ErrSelfDependency = errors.New("task cannot depend on itself")

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Statuses returns all valid statuses.
func Statuses() []Status {
	return []Status{StatusPending, StatusCompleted, StatusCanceled}
}

// Task represents a unit of work in the system.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	AssigneeID  string     `json:"assigned_to"` // user id, empty if unassigned
	CreatedBy   string     `json:"created_by"`  // user id, empty if anonymous
	DueDate     *time.Time `json:"due_date,omitempty"`
	DependsOn   []string   `json:"depends_on"` // direct prerequisite ids
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string
	Description *string
	Status      *Status
	AssigneeID  *string
	DueDate     *time.Time
	ClearDue    bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.AssigneeID == nil && p.DueDate == nil && !p.ClearDue
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Status     Status
	AssigneeID string
	DueFrom    *time.Time
	DueTo      *time.Time
	Limit      int
	IDs        []string
}

// Reader is the read-only view of tasks and dependency edges that the
// dependency engine consumes.
type Reader interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	ListPrerequisites(ctx context.Context, id string) ([]string, error)
	EdgeExists(ctx context.Context, dependentID, prerequisiteID string) (bool, error)
}

// SubgraphReader is implemented by stores that can return, in one read, every
// edge reachable from root by following "depends on" edges. The result maps a
// task id to its direct prerequisites.
type SubgraphReader interface {
	PrerequisiteSubgraph(ctx context.Context, root string) (map[string][]string, error)
}

// Tx is a unit of work over the store. Mutations are only available inside a
// Tx so that graph checks and the writes they gate share one atomic scope.
type Tx interface {
	Reader
	Create(ctx context.Context, t *Task) (*Task, error)
	Update(ctx context.Context, id string, p Patch) (*Task, error)
	Delete(ctx context.Context, id string) error
	AttachEdge(ctx context.Context, dependentID, prerequisiteID string) error
	DetachEdge(ctx context.Context, dependentID, prerequisiteID string) (bool, error)
	ListDependents(ctx context.Context, id string) ([]string, error)
}

// Store is the contract for task persistence.
type Store interface {
	Reader
	List(ctx context.Context, f Filter) ([]Task, error)
	ListDependents(ctx context.Context, id string) ([]string, error)
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, s Status) (int, error)
	EnsureTable(ctx context.Context) error

	// Atomic runs fn inside a serialized unit of work. If fn returns an
	// error, none of its writes are kept.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}
