package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// graphLockKey is the advisory lock every mutating transaction takes, so that
// graph checks and the writes they gate never interleave.
const graphLockKey int64 = 0x7461736b67726170

const taskColumns = `id, title, description, status, assignee_id, created_by, due_date, created_at, updated_at, completed_at`

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgQueries: pgQueries{q: pool}, pool: pool}
}

// EnsureTable creates the tasks and task_dependencies tables if they don't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'pending',
			assignee_id  TEXT NOT NULL DEFAULT '',
			created_by   TEXT NOT NULL DEFAULT '',
			due_date     DATE,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id) WHERE assignee_id != ''`)
	if err != nil {
		return err
	}

	// Edges go away with either endpoint.
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id            TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			depends_on_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (task_id, depends_on_task_id),
			CHECK (task_id <> depends_on_task_id)
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_task_deps_prereq ON task_dependencies(depends_on_task_id)`)
	return err
}

// Atomic runs fn in a transaction holding the graph advisory lock.
func (s *PgStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, graphLockKey); err != nil {
		return fmt.Errorf("lock task graph: %w", err)
	}
	if err := fn(&pgTx{pgQueries{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgTx adds the mutating statements, which only run inside Atomic.
type pgTx struct {
	pgQueries
}

// pgQueries holds the read statements; q is either the pool or a transaction.
type pgQueries struct {
	q querier
}

// GetTask retrieves a single task by ID, including its direct prerequisites.
func (s pgQueries) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, notFound(err))
	}
	deps, err := s.ListPrerequisites(ctx, id)
	if err != nil {
		return nil, err
	}
	t.DependsOn = deps
	return t, nil
}

// ListPrerequisites returns the ids id directly depends on.
func (s pgQueries) ListPrerequisites(ctx context.Context, id string) ([]string, error) {
	ids, err := s.scanIDs(ctx, `
		SELECT depends_on_task_id FROM task_dependencies
		WHERE task_id = $1 ORDER BY depends_on_task_id`, id)
	if err != nil {
		return nil, fmt.Errorf("list prerequisites of %s: %w", id, err)
	}
	return ids, nil
}

// ListDependents returns the ids that directly depend on id.
func (s pgQueries) ListDependents(ctx context.Context, id string) ([]string, error) {
	ids, err := s.scanIDs(ctx, `
		SELECT task_id FROM task_dependencies
		WHERE depends_on_task_id = $1 ORDER BY task_id`, id)
	if err != nil {
		return nil, fmt.Errorf("list dependents of %s: %w", id, err)
	}
	return ids, nil
}

// EdgeExists reports whether dependentID directly depends on prerequisiteID.
func (s pgQueries) EdgeExists(ctx context.Context, dependentID, prerequisiteID string) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM task_dependencies WHERE task_id = $1 AND depends_on_task_id = $2)`,
		dependentID, prerequisiteID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("edge exists %s -> %s: %w", dependentID, prerequisiteID, err)
	}
	return ok, nil
}

// PrerequisiteSubgraph walks the edges reachable from root with a recursive
// CTE. UNION (not UNION ALL) keeps the walk finite even if a cycle is stored.
func (s pgQueries) PrerequisiteSubgraph(ctx context.Context, root string) (map[string][]string, error) {
	rows, err := s.q.Query(ctx, `
		WITH RECURSIVE reach(id) AS (
			SELECT $1::text
			UNION
			SELECT d.depends_on_task_id
			FROM task_dependencies d
			JOIN reach r ON d.task_id = r.id
		)
		SELECT d.task_id, d.depends_on_task_id
		FROM task_dependencies d
		JOIN reach r ON d.task_id = r.id
		ORDER BY d.task_id, d.depends_on_task_id`, root)
	if err != nil {
		return nil, fmt.Errorf("prerequisite subgraph of %s: %w", root, err)
	}
	defer rows.Close()

	adj := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		adj[from] = append(adj[from], to)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return adj, nil
}

// List returns tasks matching f, newest first.
func (s pgQueries) List(ctx context.Context, f Filter) ([]Task, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.AssigneeID != "" {
		where = append(where, "assignee_id = "+arg(f.AssigneeID))
	}
	if f.DueFrom != nil {
		where = append(where, "due_date >= "+arg(*f.DueFrom))
	}
	if f.DueTo != nil {
		where = append(where, "due_date <= "+arg(*f.DueTo))
	}
	if len(f.IDs) > 0 {
		where = append(where, "id = ANY("+arg(f.IDs)+")")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := scanTaskRows(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := s.fillPrerequisites(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Count returns total task count.
func (s pgQueries) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

// CountByStatus returns the number of tasks in status st.
func (s pgQueries) CountByStatus(ctx context.Context, st Status) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE status = $1`, string(st)).Scan(&n)
	return n, err
}

// Create inserts a new task. An empty ID is replaced by a UUIDv7.
func (s pgTx) Create(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV7()).String()
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

	_, err := s.q.Exec(ctx, `
		INSERT INTO tasks (id, title, description, status, assignee_id, created_by, due_date, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Title, t.Description, string(t.Status), t.AssigneeID, t.CreatedBy, t.DueDate, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// Update applies p to the task. Moving into completed stamps completed_at;
// moving out of it clears the stamp.
func (s pgTx) Update(ctx context.Context, id string, p Patch) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)

	setClauses := "updated_at = $1"
	args := []any{now}
	add := func(clause string, v any) {
		args = append(args, v)
		setClauses += fmt.Sprintf(", "+clause, len(args))
	}

	if p.Title != nil {
		add("title = $%d", *p.Title)
	}
	if p.Description != nil {
		add("description = $%d", *p.Description)
	}
	if p.AssigneeID != nil {
		add("assignee_id = $%d", *p.AssigneeID)
	}
	if p.ClearDue {
		setClauses += ", due_date = NULL"
	} else if p.DueDate != nil {
		add("due_date = $%d", *p.DueDate)
	}
	if p.Status != nil {
		add("status = $%d::text", string(*p.Status))
		n := len(args)
		setClauses += fmt.Sprintf(", completed_at = CASE WHEN $%d::text = 'completed' THEN COALESCE(completed_at, $1) ELSE NULL END", n)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d RETURNING %s", setClauses, len(args), taskColumns)

	t, err := scanTask(s.q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, notFound(err))
	}
	deps, err := s.ListPrerequisites(ctx, id)
	if err != nil {
		return nil, err
	}
	t.DependsOn = deps
	return t, nil
}

// Delete removes a task. Its edges in both directions cascade.
func (s pgTx) Delete(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete task %s: %w", id, ErrNotFound)
	}
	return nil
}

// AttachEdge records that dependentID depends on prerequisiteID. Inserting an
// existing edge is a no-op.
func (s pgTx) AttachEdge(ctx context.Context, dependentID, prerequisiteID string) error {
	if dependentID == prerequisiteID {
		return fmt.Errorf("attach %s -> %s: %w", dependentID, prerequisiteID, ErrSelfDependency)
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO task_dependencies (task_id, depends_on_task_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		dependentID, prerequisiteID, time.Now().Truncate(time.Microsecond))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			err = ErrNotFound
		}
		return fmt.Errorf("attach %s -> %s: %w", dependentID, prerequisiteID, err)
	}
	return nil
}

// DetachEdge removes the edge and reports whether it existed.
func (s pgTx) DetachEdge(ctx context.Context, dependentID, prerequisiteID string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM task_dependencies WHERE task_id = $1 AND depends_on_task_id = $2`,
		dependentID, prerequisiteID)
	if err != nil {
		return false, fmt.Errorf("detach %s -> %s: %w", dependentID, prerequisiteID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s pgQueries) fillPrerequisites(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, len(tasks))
	index := make(map[string]int, len(tasks))
	for i := range tasks {
		ids[i] = tasks[i].ID
		index[tasks[i].ID] = i
		tasks[i].DependsOn = []string{}
	}

	rows, err := s.q.Query(ctx, `
		SELECT task_id, depends_on_task_id FROM task_dependencies
		WHERE task_id = ANY($1) ORDER BY task_id, depends_on_task_id`, ids)
	if err != nil {
		return fmt.Errorf("list prerequisites: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return err
		}
		i := index[from]
		tasks[i].DependsOn = append(tasks[i].DependsOn, to)
	}
	return rows.Err()
}

func (s pgQueries) scanIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var status string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.AssigneeID, &t.CreatedBy, &t.DueDate, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	return &t, nil
}

func scanTaskRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return tasks, nil
}
