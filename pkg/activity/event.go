package activity

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an event id does not resolve.
var ErrNotFound = errors.New("event not found")

// Event types recorded by the tracker.
const (
	TypeTaskCreated        = "task.created"
	TypeTaskUpdated        = "task.updated"
	TypeTaskStatusChanged  = "task.status_changed"
	TypeTaskDeleted        = "task.deleted"
	TypeDependencyAttached = "dependency.attached"
	TypeDependencyDetached = "dependency.detached"
)

// Event is one entry in the hash-chained, append-only task activity log.
type Event struct {
	ID        string         `json:"id"`        // UUID v7 (time-ordered)
	Type      string         `json:"type"`      // e.g. "task.created", "dependency.attached"
	TaskID    string         `json:"task_id"`   // task the event is about
	Actor     string         `json:"actor"`     // user id, empty if anonymous
	Content   map[string]any `json:"content"`   // event payload
	Timestamp time.Time      `json:"timestamp"` // when the event occurred
	Hash      string         `json:"hash"`      // SHA-256 of canonical form
	PrevHash  string         `json:"prev_hash"` // hash chain link
}

// Page sizes for event reads.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ClampLimit maps a requested page size into 1..MaxLimit. Zero or negative
// means DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Store is the contract for activity persistence.
type Store interface {
	Append(ctx context.Context, eventType, taskID, actor string, content map[string]any) (*Event, error)
	Get(ctx context.Context, id string) (*Event, error)
	Recent(ctx context.Context, limit int) ([]Event, error)
	ByTask(ctx context.Context, taskID string, limit int) ([]Event, error)
	Since(ctx context.Context, afterID string, limit int) ([]Event, error)
	Count(ctx context.Context) (int, error)
	VerifyChain(ctx context.Context) error
	EnsureTable(ctx context.Context) error
}

// computeHash computes a SHA-256 hash for chain integrity.
func computeHash(prevHash, id, eventType, taskID, actor string, timestamp time.Time, contentJSON []byte) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s", prevHash, id, eventType, taskID, actor, timestamp.UnixNano(), string(contentJSON))
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", h)
}
