package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktrack/internal/config"
	"tasktrack/pkg/tracker"
)

func TestOpen_Memory(t *testing.T) {
	t.Parallel()
	cfg := config.NewDefaults()
	cfg.Database.Backend = config.BackendMemory

	a, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.EnsureTables(context.Background()))

	v, err := a.Service.Create(context.Background(), tracker.NewTask{Title: "a"}, "")
	require.NoError(t, err)

	n, err := a.Events.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "service must record through the bus")

	got, err := a.Tasks.GetTask(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Title)
}

func TestOpen_UnknownBackend(t *testing.T) {
	t.Parallel()
	cfg := config.NewDefaults()
	cfg.Database.Backend = "sqlite"

	_, err := Open(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown store backend")
}
