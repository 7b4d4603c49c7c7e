// Package app wires the configured stores to the tracker service. Both the
// HTTP server and taskctl start from here.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"tasktrack/internal/config"
	"tasktrack/internal/db"
	"tasktrack/pkg/activity"
	"tasktrack/pkg/task"
	"tasktrack/pkg/tracker"
	"tasktrack/pkg/user"
)

// App holds the opened stores and the service built on them.
type App struct {
	Tasks   task.Store
	Users   user.Store
	Events  *activity.Bus
	Service *tracker.Service

	pool *pgxpool.Pool
}

// Open connects the backend named by cfg.Database.Backend.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	var events activity.Store

	switch cfg.Database.Backend {
	case config.BackendMemory:
		a.Tasks = task.NewMemStore()
		a.Users = user.NewMemStore()
		events = activity.NewMemStore()
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.Database.URL, db.Options{
			MaxConns:    cfg.Database.MaxConns,
			ConnTimeout: cfg.Database.ConnTimeout.Duration,
		})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.Tasks = task.NewPgStore(pool)
		a.Users = user.NewPgStore(pool)
		events = activity.NewPgStore(pool)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Database.Backend)
	}

	a.Events = activity.NewBus(events)
	a.Service = tracker.New(a.Tasks, a.Users, a.Events)
	return a, nil
}

// EnsureTables creates any missing tables.
func (a *App) EnsureTables(ctx context.Context) error {
	if err := a.Users.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure users table: %w", err)
	}
	if err := a.Tasks.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure tasks table: %w", err)
	}
	if err := a.Events.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure events table: %w", err)
	}
	return nil
}

// Close releases the connection pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
