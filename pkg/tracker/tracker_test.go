package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktrack/pkg/activity"
	"tasktrack/pkg/depgraph"
	"tasktrack/pkg/task"
	"tasktrack/pkg/user"
)

// ---- Test helpers -----------------------------------------------------------

type fixture struct {
	svc    *Service
	tasks  *task.MemStore
	users  *user.MemStore
	events *activity.MemStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tasks:  task.NewMemStore(),
		users:  user.NewMemStore(),
		events: activity.NewMemStore(),
	}
	f.svc = New(f.tasks, f.users, f.events)
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) create(t *testing.T, title string) *View {
	t.Helper()
	v, err := f.svc.Create(context.Background(), NewTask{Title: title}, "")
	require.NoError(t, err)
	return v
}

func (f *fixture) complete(t *testing.T, id string) {
	t.Helper()
	_, err := f.svc.UpdateStatus(context.Background(), id, task.StatusCompleted, "")
	require.NoError(t, err)
}

func eventTypes(t *testing.T, s activity.Store, taskID string) []string {
	t.Helper()
	events, err := s.ByTask(context.Background(), taskID, 100)
	require.NoError(t, err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

// failingEvents rejects every append.
type failingEvents struct{ activity.Store }

func (failingEvents) Append(context.Context, string, string, string, map[string]any) (*activity.Event, error) {
	return nil, errors.New("disk full")
}

// countingTasks counts the reads a Service issues against the task store.
type countingTasks struct {
	task.Store
	mu    sync.Mutex
	reads map[string]int
}

func (c *countingTasks) count(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads[op]++
}

func (c *countingTasks) GetTask(ctx context.Context, id string) (*task.Task, error) {
	c.count("GetTask")
	return c.Store.GetTask(ctx, id)
}

func (c *countingTasks) ListPrerequisites(ctx context.Context, id string) ([]string, error) {
	c.count("ListPrerequisites")
	return c.Store.ListPrerequisites(ctx, id)
}

func (c *countingTasks) List(ctx context.Context, f task.Filter) ([]task.Task, error) {
	c.count("List")
	return c.Store.List(ctx, f)
}

// ---- Create / validation ----------------------------------------------------

func TestCreate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.users.Register(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	v, err := f.svc.Create(ctx, NewTask{Title: "  Write report ", AssigneeID: u.ID, DueDate: &due}, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Write report", v.Title)
	assert.Equal(t, task.StatusPending, v.Status)
	assert.Equal(t, u.ID, v.CreatedBy)
	assert.True(t, v.CanBeCompleted)
	assert.Empty(t, v.Dependencies)
	assert.Equal(t, []string{activity.TypeTaskCreated}, eventTypes(t, f.events, v.ID))
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	past := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name  string
		in    NewTask
		field string
	}{
		{"missing title", NewTask{Title: "   "}, "title"},
		{"long title", NewTask{Title: string(long)}, "title"},
		{"unknown assignee", NewTask{Title: "t", AssigneeID: "ghost"}, "assigned_to"},
		{"past due date", NewTask{Title: "t", DueDate: &past}, "due_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.in, "")
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}

	n, err := f.tasks.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ---- Dependencies -----------------------------------------------------------

func TestAttachDependency(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")

	v, err := f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, v.DependsOn)
	require.Len(t, v.Dependencies, 1)
	assert.Equal(t, "b", v.Dependencies[0].Title)
	assert.False(t, v.CanBeCompleted)

	// Idempotent: no second event.
	_, err = f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{activity.TypeTaskCreated, activity.TypeDependencyAttached}, eventTypes(t, f.events, a.ID))

	deps, err := f.svc.Dependents(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []Summary{{ID: a.ID, Title: "a", Status: task.StatusPending}}, deps)
}

func TestAttachDependency_Denied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	c := f.create(t, "c")
	_, err := f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)
	_, err = f.svc.AttachDependency(ctx, b.ID, c.ID, "")
	require.NoError(t, err)

	_, err = f.svc.AttachDependency(ctx, c.ID, a.ID, "")
	var derr *DecisionError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, depgraph.ReasonWouldCreateCycle, derr.Decision.Reason)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, derr.Decision.Detail)
	assert.Equal(t, "depends_on_task_id", derr.Field)
	assert.Contains(t, derr.Message, c.ID+" -> "+a.ID+" -> "+b.ID+" -> "+c.ID)

	_, err = f.svc.AttachDependency(ctx, a.ID, a.ID, "")
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, depgraph.ReasonSelfDependency, derr.Decision.Reason)

	prereqs, err := f.tasks.ListPrerequisites(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, prereqs)
}

func TestAttachDependency_UnknownTasks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")

	_, err := f.svc.AttachDependency(ctx, "missing", a.ID, "")
	assert.ErrorIs(t, err, task.ErrNotFound)

	_, err = f.svc.AttachDependency(ctx, a.ID, "missing", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "depends_on_task_id")

	_, err = f.svc.AttachDependency(ctx, a.ID, "", "")
	require.ErrorAs(t, err, &verr)
}

func TestDetachDependency(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	_, err := f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)

	v, err := f.svc.DetachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)
	assert.Empty(t, v.DependsOn)
	assert.True(t, v.CanBeCompleted)

	// Second detach is a no-op and records nothing.
	_, err = f.svc.DetachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		activity.TypeTaskCreated,
		activity.TypeDependencyAttached,
		activity.TypeDependencyDetached,
	}, eventTypes(t, f.events, a.ID))

	_, err = f.svc.DetachDependency(ctx, a.ID, "missing", "")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestAttachDependency_ConcurrentOppositeEdges(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	pairs := [][2]string{{a.ID, b.ID}, {b.ID, a.ID}}
	for i, p := range pairs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.AttachDependency(ctx, p[0], p[1], "")
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			var derr *DecisionError
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, depgraph.ReasonWouldCreateCycle, derr.Decision.Reason)
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

// ---- Status -----------------------------------------------------------------

func TestUpdateStatus_CompletionGate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	_, err := f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, a.ID, task.StatusCompleted, "")
	var derr *DecisionError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, depgraph.ReasonIncompleteDependencies, derr.Decision.Reason)
	assert.Equal(t, []string{b.ID}, derr.Decision.Detail)
	assert.Equal(t, "status", derr.Field)
	assert.Contains(t, derr.Message, "Cannot complete task.")

	f.complete(t, b.ID)
	v, err := f.svc.UpdateStatus(ctx, a.ID, task.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, v.Status)
	assert.NotNil(t, v.CompletedAt)

	// Completing again is allowed and records nothing new.
	_, err = f.svc.UpdateStatus(ctx, a.ID, task.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		activity.TypeTaskCreated,
		activity.TypeDependencyAttached,
		activity.TypeTaskStatusChanged,
	}, eventTypes(t, f.events, a.ID))
}

func TestUpdateStatus_CanceledPrerequisiteBlocks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	_, err := f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, b.ID, task.StatusCanceled, "")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, a.ID, task.StatusCompleted, "")
	var derr *DecisionError
	assert.ErrorAs(t, err, &derr)
}

func TestUpdateStatus_RevertIsAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	_, err := f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)
	f.complete(t, b.ID)
	f.complete(t, a.ID)

	v, err := f.svc.UpdateStatus(ctx, b.ID, task.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, v.Status)
	assert.Nil(t, v.CompletedAt)
}

func TestUpdateStatus_Invalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.create(t, "a")

	_, err := f.svc.UpdateStatus(context.Background(), a.ID, "done", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "status")

	_, err = f.svc.UpdateStatus(context.Background(), "missing", task.StatusPending, "")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

// ---- Update / Delete / List -------------------------------------------------

func TestUpdate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	_, err := f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)

	title := "renamed"
	completed := task.StatusCompleted
	_, err = f.svc.Update(ctx, a.ID, task.Patch{Title: &title, Status: &completed}, "")
	var derr *DecisionError
	require.ErrorAs(t, err, &derr)

	got, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Title, "denied update must not write")

	v, err := f.svc.Update(ctx, a.ID, task.Patch{Title: &title}, "")
	require.NoError(t, err)
	assert.Equal(t, "renamed", v.Title)

	empty := ""
	_, err = f.svc.Update(ctx, a.ID, task.Patch{Title: &empty}, "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	_, err := f.svc.AttachDependency(ctx, a.ID, b.ID, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, b.ID, ""))
	_, err = f.svc.Get(ctx, b.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)

	v, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, v.DependsOn)
	assert.True(t, v.CanBeCompleted)

	events, err := f.svc.Events(ctx, b.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, activity.TypeTaskDeleted, events[len(events)-1].Type)

	assert.ErrorIs(t, f.svc.Delete(ctx, b.ID, ""), task.ErrNotFound)
	_, err = f.svc.Events(ctx, "never-existed", 0)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	f.create(t, "b")
	f.complete(t, a.ID)

	all, err := f.svc.List(ctx, task.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Title)

	done, err := f.svc.List(ctx, task.Filter{Status: task.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, a.ID, done[0].ID)

	_, err = f.svc.List(ctx, task.Filter{Status: "bogus"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestList_BatchesPrerequisiteReads(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	c := f.create(t, "c")
	d := f.create(t, "d")
	for _, edge := range [][2]string{{c.ID, a.ID}, {c.ID, b.ID}, {d.ID, a.ID}} {
		_, err := f.svc.AttachDependency(ctx, edge[0], edge[1], "")
		require.NoError(t, err)
	}
	f.complete(t, a.ID)

	counting := &countingTasks{Store: f.tasks, reads: map[string]int{}}
	f.svc.tasks = counting
	views, err := f.svc.List(ctx, task.Filter{})
	require.NoError(t, err)
	require.Len(t, views, 4)
	assert.Equal(t, map[string]int{"List": 2}, counting.reads, "one page read plus one prerequisite read")

	byID := map[string]View{}
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.True(t, byID[a.ID].CanBeCompleted)
	assert.True(t, byID[b.ID].CanBeCompleted)
	assert.False(t, byID[c.ID].CanBeCompleted, "b is still pending")
	assert.True(t, byID[d.ID].CanBeCompleted)
	assert.ElementsMatch(t, []Summary{
		{ID: a.ID, Title: "a", Status: task.StatusCompleted},
		{ID: b.ID, Title: "b", Status: task.StatusPending},
	}, byID[c.ID].Dependencies)

	// Single reads agree with the batched page.
	f.svc.tasks = f.tasks
	for _, v := range views {
		one, err := f.svc.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, one.CanBeCompleted, v.CanBeCompleted, v.Title)
		assert.ElementsMatch(t, one.Dependencies, v.Dependencies, v.Title)
	}
}

func TestActivityFailureDoesNotFailMutation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.events = failingEvents{f.events}

	v, err := f.svc.Create(context.Background(), NewTask{Title: "a"}, "")
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), v.ID)
	require.NoError(t, err)
}
