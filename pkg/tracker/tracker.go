// Package tracker is the task service: it validates input, asks the
// dependency engine for a decision and commits the change in the same atomic
// scope, then records the mutation in the activity log.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"tasktrack/internal/logging"
	"tasktrack/pkg/activity"
	"tasktrack/pkg/depgraph"
	"tasktrack/pkg/task"
	"tasktrack/pkg/user"
)

const (
	maxTitleLen  = 255
	defaultLimit = 50
	maxLimit     = 500
)

// NewTask is the input for Create.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssigneeID  string     `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`
}

// Summary is the short form of a task used for dependency listings.
type Summary struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Status task.Status `json:"status"`
}

// View is a task with its resolved prerequisites.
type View struct {
	task.Task
	Dependencies   []Summary `json:"dependencies"`
	CanBeCompleted bool      `json:"can_be_completed"`
}

// Service implements the task operations.
type Service struct {
	tasks  task.Store
	users  user.Store
	events activity.Store
	engine *depgraph.Engine
	log    *log.Logger
	now    func() time.Time
}

// New creates a Service.
func New(tasks task.Store, users user.Store, events activity.Store) *Service {
	return &Service{
		tasks:  tasks,
		users:  users,
		events: events,
		engine: depgraph.New(),
		log:    logging.New("tracker"),
		now:    time.Now,
	}
}

// Create validates and stores a new pending task.
func (s *Service) Create(ctx context.Context, in NewTask, actor string) (*View, error) {
	verr := &ValidationError{}
	title := strings.TrimSpace(in.Title)
	s.checkTitle(verr, &title)
	if err := s.checkAssignee(ctx, verr, in.AssigneeID); err != nil {
		return nil, err
	}
	s.checkDueDate(verr, in.DueDate)
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	var view *View
	err := s.tasks.Atomic(ctx, func(tx task.Tx) error {
		t, err := tx.Create(ctx, &task.Task{
			Title:       title,
			Description: in.Description,
			Status:      task.StatusPending,
			AssigneeID:  in.AssigneeID,
			CreatedBy:   actor,
			DueDate:     in.DueDate,
		})
		if err != nil {
			return err
		}
		view, err = s.view(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("task created", "task", view.ID, "actor", actor)
	s.record(ctx, activity.TypeTaskCreated, view.ID, actor, map[string]any{
		"title":       view.Title,
		"assigned_to": view.AssigneeID,
	})
	return view, nil
}

// Get returns a task with its dependencies.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	t, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, s.tasks, t)
}

// List returns tasks matching f, newest first.
func (s *Service) List(ctx context.Context, f task.Filter) ([]View, error) {
	verr := &ValidationError{}
	if f.Status != "" && !f.Status.Valid() {
		verr.Add("status", statusMessage)
	}
	if f.DueFrom != nil && f.DueTo != nil && f.DueTo.Before(*f.DueFrom) {
		verr.Add("due_date_to", "The due date upper bound must not be before the lower bound.")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	tasks, err := s.tasks.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.listViews(ctx, tasks)
}

// listViews builds views for a page of tasks with one read for all of their
// prerequisites.
func (s *Service) listViews(ctx context.Context, tasks []task.Task) ([]View, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, t := range tasks {
		for _, id := range t.DependsOn {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	loaded := make(map[string]*task.Task, len(ids))
	if len(ids) > 0 {
		prereqs, err := s.tasks.List(ctx, task.Filter{IDs: ids})
		if err != nil {
			return nil, err
		}
		for i := range prereqs {
			loaded[prereqs[i].ID] = &prereqs[i]
		}
	}

	views := make([]View, 0, len(tasks))
	for _, t := range tasks {
		deps := make([]Summary, 0, len(t.DependsOn))
		for _, id := range t.DependsOn {
			if p, ok := loaded[id]; ok {
				deps = append(deps, Summary{ID: p.ID, Title: p.Title, Status: p.Status})
			}
		}
		d := s.engine.Completion(&t, t.DependsOn, loaded)
		views = append(views, View{Task: t, Dependencies: deps, CanBeCompleted: d.Allow})
	}
	return views, nil
}

// Update applies a partial update. A status change into completed is gated
// by the dependency engine.
func (s *Service) Update(ctx context.Context, id string, p task.Patch, actor string) (*View, error) {
	verr := &ValidationError{}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		s.checkTitle(verr, &title)
		p.Title = &title
	}
	if p.AssigneeID != nil {
		if err := s.checkAssignee(ctx, verr, *p.AssigneeID); err != nil {
			return nil, err
		}
	}
	if !p.ClearDue {
		s.checkDueDate(verr, p.DueDate)
	}
	if p.Status != nil && !p.Status.Valid() {
		verr.Add("status", statusMessage)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	var view *View
	var from task.Status
	err := s.tasks.Atomic(ctx, func(tx task.Tx) error {
		cur, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		from = cur.Status
		if p.Status != nil {
			if err := s.gateStatus(ctx, tx, cur, *p.Status); err != nil {
				return err
			}
		}
		t, err := tx.Update(ctx, id, p)
		if err != nil {
			return err
		}
		view, err = s.view(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("task updated", "task", id, "actor", actor)
	s.record(ctx, activity.TypeTaskUpdated, id, actor, patchContent(p))
	if p.Status != nil && *p.Status != from {
		s.record(ctx, activity.TypeTaskStatusChanged, id, actor, map[string]any{
			"from": string(from),
			"to":   string(*p.Status),
		})
	}
	return view, nil
}

// UpdateStatus changes only the status. Moving into completed requires every
// direct prerequisite to be completed.
func (s *Service) UpdateStatus(ctx context.Context, id string, status task.Status, actor string) (*View, error) {
	if !status.Valid() {
		return nil, invalid("status", statusMessage)
	}

	var view *View
	var from task.Status
	err := s.tasks.Atomic(ctx, func(tx task.Tx) error {
		cur, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		from = cur.Status
		if err := s.gateStatus(ctx, tx, cur, status); err != nil {
			return err
		}
		t, err := tx.Update(ctx, id, task.Patch{Status: &status})
		if err != nil {
			return err
		}
		view, err = s.view(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	if from != status {
		s.log.Info("task status changed", "task", id, "from", from, "to", status, "actor", actor)
		s.record(ctx, activity.TypeTaskStatusChanged, id, actor, map[string]any{
			"from": string(from),
			"to":   string(status),
		})
	}
	return view, nil
}

// Delete removes a task together with every edge touching it.
func (s *Service) Delete(ctx context.Context, id string, actor string) error {
	var title string
	var dependents []string
	err := s.tasks.Atomic(ctx, func(tx task.Tx) error {
		cur, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		title = cur.Title
		dependents, err = tx.ListDependents(ctx, id)
		if err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info("task deleted", "task", id, "dependents", len(dependents), "actor", actor)
	s.record(ctx, activity.TypeTaskDeleted, id, actor, map[string]any{
		"title":      title,
		"dependents": dependents,
	})
	return nil
}

// AttachDependency makes id depend on prerequisiteID. Attaching an existing
// edge succeeds without writing.
func (s *Service) AttachDependency(ctx context.Context, id, prerequisiteID, actor string) (*View, error) {
	if strings.TrimSpace(prerequisiteID) == "" {
		return nil, invalid("depends_on_task_id", "The task dependency ID is required.")
	}

	var view *View
	var decision depgraph.Decision
	err := s.tasks.Atomic(ctx, func(tx task.Tx) error {
		if _, err := tx.GetTask(ctx, id); err != nil {
			return err
		}
		d, err := s.engine.CanAttach(ctx, tx, id, prerequisiteID)
		if errors.Is(err, depgraph.ErrUnknownTask) {
			return invalid("depends_on_task_id", fmt.Sprintf(
				"The selected task (ID: %s) does not exist. Please create the task first or use a valid task ID.", prerequisiteID))
		}
		if err != nil {
			return err
		}
		decision = d
		if !d.Allow {
			return attachDenied(id, d)
		}
		if d.Reason != depgraph.ReasonAlreadyExists {
			if err := tx.AttachEdge(ctx, id, prerequisiteID); err != nil {
				return err
			}
		}
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		view, err = s.view(ctx, tx, t)
		return err
	})
	if err != nil {
		var derr *DecisionError
		if errors.As(err, &derr) {
			s.log.Debug("dependency denied", "task", id, "depends_on", prerequisiteID, "reason", derr.Decision.Reason)
		}
		return nil, err
	}

	if decision.Reason == depgraph.ReasonAlreadyExists {
		s.log.Debug("dependency already present", "task", id, "depends_on", prerequisiteID)
		return view, nil
	}
	s.log.Info("dependency attached", "task", id, "depends_on", prerequisiteID, "actor", actor)
	s.record(ctx, activity.TypeDependencyAttached, id, actor, map[string]any{
		"depends_on_task_id": prerequisiteID,
	})
	return view, nil
}

// DetachDependency removes the edge unconditionally. Removing an edge that
// does not exist is a no-op; both tasks must exist.
func (s *Service) DetachDependency(ctx context.Context, id, prerequisiteID, actor string) (*View, error) {
	var view *View
	var removed bool
	err := s.tasks.Atomic(ctx, func(tx task.Tx) error {
		if _, err := tx.GetTask(ctx, prerequisiteID); err != nil {
			return err
		}
		var err error
		removed, err = tx.DetachEdge(ctx, id, prerequisiteID)
		if err != nil {
			return err
		}
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		view, err = s.view(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	if removed {
		s.log.Info("dependency detached", "task", id, "depends_on", prerequisiteID, "actor", actor)
		s.record(ctx, activity.TypeDependencyDetached, id, actor, map[string]any{
			"depends_on_task_id": prerequisiteID,
		})
	}
	return view, nil
}

// Dependents returns the tasks that directly depend on id.
func (s *Service) Dependents(ctx context.Context, id string) ([]Summary, error) {
	if _, err := s.tasks.GetTask(ctx, id); err != nil {
		return nil, err
	}
	ids, err := s.tasks.ListDependents(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summaries(ctx, s.tasks, ids)
}

// Events returns the activity recorded for a task.
func (s *Service) Events(ctx context.Context, id string, limit int) ([]activity.Event, error) {
	events, err := s.events.ByTask(ctx, id, activity.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		// Deleted tasks keep their history; only unknown ids with none are 404.
		if _, err := s.tasks.GetTask(ctx, id); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// gateStatus asks the engine before a transition into completed. Other
// transitions are not constrained; reverting a task that completed dependents
// rely on is allowed but logged.
func (s *Service) gateStatus(ctx context.Context, tx task.Tx, cur *task.Task, to task.Status) error {
	if to == task.StatusCompleted {
		d, err := s.engine.CanComplete(ctx, tx, cur.ID)
		if err != nil {
			return err
		}
		if !d.Allow {
			return s.completeDenied(ctx, tx, d)
		}
		return nil
	}
	if cur.Status == task.StatusCompleted {
		dependents, err := tx.ListDependents(ctx, cur.ID)
		if err != nil {
			return err
		}
		for _, id := range dependents {
			dt, err := tx.GetTask(ctx, id)
			if err != nil {
				return err
			}
			if dt.Status == task.StatusCompleted {
				s.log.Warn("completed task left with an incomplete prerequisite",
					"task", id, "prerequisite", cur.ID, "to", to)
			}
		}
	}
	return nil
}

func (s *Service) completeDenied(ctx context.Context, r task.Reader, d depgraph.Decision) error {
	names := make([]string, 0, len(d.Detail))
	for _, id := range d.Detail {
		label := id
		if t, err := r.GetTask(ctx, id); err == nil {
			label = fmt.Sprintf("%s (ID: %s, %s)", t.Title, id, t.Status)
		}
		names = append(names, label)
	}
	return &DecisionError{
		Field:    "status",
		Decision: d,
		Message:  "Cannot complete task. Some dependencies are not yet completed: " + strings.Join(names, ", ") + ".",
	}
}

func attachDenied(id string, d depgraph.Decision) error {
	msg := "A task cannot depend on itself."
	if d.Reason == depgraph.ReasonWouldCreateCycle {
		chain := append([]string{id}, d.Detail...)
		msg = "Adding this dependency would create a circular dependency chain: " + strings.Join(chain, " -> ") + "."
	}
	return &DecisionError{Field: "depends_on_task_id", Decision: d, Message: msg}
}

func (s *Service) view(ctx context.Context, r task.Reader, t *task.Task) (*View, error) {
	deps, err := s.summaries(ctx, r, t.DependsOn)
	if err != nil {
		return nil, err
	}
	d, err := s.engine.CanComplete(ctx, r, t.ID)
	if err != nil {
		return nil, err
	}
	return &View{Task: *t, Dependencies: deps, CanBeCompleted: d.Allow}, nil
}

func (s *Service) summaries(ctx context.Context, r task.Reader, ids []string) ([]Summary, error) {
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		t, err := r.GetTask(ctx, id)
		if errors.Is(err, task.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{ID: t.ID, Title: t.Title, Status: t.Status})
	}
	return out, nil
}

// record appends to the activity log. The mutation is already committed, so
// a failure here is logged rather than returned.
func (s *Service) record(ctx context.Context, eventType, taskID, actor string, content map[string]any) {
	if _, err := s.events.Append(ctx, eventType, taskID, actor, content); err != nil {
		s.log.Error("record activity", "type", eventType, "task", taskID, "err", err)
	}
}

const statusMessage = "The status must be one of: pending, completed, canceled."

func (s *Service) checkTitle(verr *ValidationError, title *string) {
	switch {
	case *title == "":
		verr.Add("title", "Task title is required.")
	case utf8.RuneCountInString(*title) > maxTitleLen:
		verr.Add("title", fmt.Sprintf("Task title cannot exceed %d characters.", maxTitleLen))
	}
}

func (s *Service) checkAssignee(ctx context.Context, verr *ValidationError, id string) error {
	if id == "" {
		return nil
	}
	_, err := s.users.Get(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		verr.Add("assigned_to", "The selected user does not exist. Please provide a valid user ID.")
		return nil
	}
	return err
}

func (s *Service) checkDueDate(verr *ValidationError, due *time.Time) {
	if due == nil {
		return
	}
	y, m, d := s.now().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	dy, dm, dd := due.Date()
	if time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).Before(today) {
		verr.Add("due_date", "Due date must be today or a future date.")
	}
}

func patchContent(p task.Patch) map[string]any {
	c := map[string]any{}
	if p.Title != nil {
		c["title"] = *p.Title
	}
	if p.Description != nil {
		c["description"] = *p.Description
	}
	if p.AssigneeID != nil {
		c["assigned_to"] = *p.AssigneeID
	}
	if p.ClearDue {
		c["due_date"] = nil
	} else if p.DueDate != nil {
		c["due_date"] = p.DueDate.Format(time.DateOnly)
	}
	if p.Status != nil {
		c["status"] = string(*p.Status)
	}
	return c
}
