package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, type, task_id, actor, content, timestamp, hash, prev_hash`

// PgStore is a PostgreSQL-backed activity Store with hash-chained integrity.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the task_events table if it doesn't exist. seq is the
// chain order; timestamps from different writers may not be monotonic.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_events (
			seq       BIGSERIAL,
			id        TEXT PRIMARY KEY,
			type      TEXT NOT NULL,
			task_id   TEXT NOT NULL DEFAULT '',
			actor     TEXT NOT NULL DEFAULT '',
			content   JSONB NOT NULL DEFAULT '{}',
			timestamp TIMESTAMPTZ NOT NULL,
			hash      TEXT NOT NULL,
			prev_hash TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`ALTER TABLE task_events ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_task_events_seq ON task_events(seq)`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id, seq)`,
	} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append creates and stores a new event, extending the hash chain.
func (s *PgStore) Append(ctx context.Context, eventType, taskID, actor string, content map[string]any) (*Event, error) {
	if content == nil {
		content = map[string]any{}
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The chain head is serialized by locking the table for writers only.
	if _, err := tx.Exec(ctx, `LOCK TABLE task_events IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, fmt.Errorf("lock events: %w", err)
	}
	var prevHash string
	var headTime time.Time
	err = tx.QueryRow(ctx, `SELECT hash, timestamp FROM task_events ORDER BY seq DESC LIMIT 1`).Scan(&prevHash, &headTime)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	// Stamped under the lock so time order follows chain order.
	now := time.Now().Truncate(time.Microsecond)
	if !now.After(headTime) {
		now = headTime.Add(time.Microsecond)
	}
	id := uuid.Must(uuid.NewV7()).String()

	e := &Event{
		ID:        id,
		Type:      eventType,
		TaskID:    taskID,
		Actor:     actor,
		Content:   content,
		Timestamp: now,
		PrevHash:  prevHash,
	}
	e.Hash = computeHash(prevHash, id, eventType, taskID, actor, now, contentJSON)

	_, err = tx.Exec(ctx, `
		INSERT INTO task_events (id, type, task_id, actor, content, timestamp, hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		e.ID, e.Type, e.TaskID, e.Actor, string(contentJSON), e.Timestamp, e.Hash, e.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit event: %w", err)
	}
	return e, nil
}

// Get retrieves a single event by ID.
func (s *PgStore) Get(ctx context.Context, id string) (*Event, error) {
	events, err := s.scanMany(ctx, `SELECT `+eventColumns+` FROM task_events WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("get event %s: %w", id, ErrNotFound)
	}
	return &events[0], nil
}

// Recent returns the most recent events in reverse chronological order.
func (s *PgStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	return s.scanMany(ctx, `
		SELECT `+eventColumns+`
		FROM task_events ORDER BY seq DESC LIMIT $1`, ClampLimit(limit))
}

// ByTask returns a task's events in chronological order.
func (s *PgStore) ByTask(ctx context.Context, taskID string, limit int) ([]Event, error) {
	return s.scanMany(ctx, `
		SELECT `+eventColumns+`
		FROM task_events WHERE task_id = $1 ORDER BY seq ASC LIMIT $2`, taskID, ClampLimit(limit))
}

// Since returns events created after the given ID, for polling/SSE.
func (s *PgStore) Since(ctx context.Context, afterID string, limit int) ([]Event, error) {
	return s.scanMany(ctx, `
		SELECT `+eventColumns+`
		FROM task_events WHERE seq > (SELECT seq FROM task_events WHERE id = $1)
		ORDER BY seq ASC LIMIT $2`, afterID, ClampLimit(limit))
}

// Count returns the total number of events.
func (s *PgStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM task_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// VerifyChain walks the entire chain in append order and verifies hash integrity.
func (s *PgStore) VerifyChain(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM task_events ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("verify chain query: %w", err)
	}
	defer rows.Close()

	prevHash := ""
	i := 0
	for rows.Next() {
		e, raw, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("verify chain scan row %d: %w", i, err)
		}
		if err := verifyLink(i, e, prevHash, raw); err != nil {
			return err
		}
		prevHash = e.Hash
		i++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("verify chain rows: %w", err)
	}
	return nil
}

func (s *PgStore) scanMany(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, _, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return events, nil
}

// scanEvent also returns the stored JSONB text, since jsonb normalizes key
// order and whitespace and the hash must be checked against both forms.
func scanEvent(row pgx.Row) (*Event, []byte, error) {
	var e Event
	var contentJSON []byte
	if err := row.Scan(&e.ID, &e.Type, &e.TaskID, &e.Actor, &contentJSON, &e.Timestamp, &e.Hash, &e.PrevHash); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(contentJSON, &e.Content); err != nil {
		return nil, nil, fmt.Errorf("unmarshal content: %w", err)
	}
	return &e, contentJSON, nil
}
