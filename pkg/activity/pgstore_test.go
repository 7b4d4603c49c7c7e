package activity

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newTestPgStore connects to TASKTRACK_TEST_DATABASE_URL or skips.
func newTestPgStore(t *testing.T) *PgStore {
	t.Helper()
	url := os.Getenv("TASKTRACK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TASKTRACK_TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPgStore(pool)
	require.NoError(t, s.EnsureTable(context.Background()))
	return s
}

func TestPgStore_ConcurrentAppendsKeepChain(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()

	const writers = 16
	g, gctx := errgroup.WithContext(ctx)
	for i := range writers {
		g.Go(func() error {
			_, err := s.Append(gctx, TypeTaskUpdated, fmt.Sprintf("chain-%d", i), "", map[string]any{"n": i})
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, s.VerifyChain(ctx))

	recent, err := s.Recent(ctx, writers)
	require.NoError(t, err)
	require.Len(t, recent, writers)
	for i := 1; i < len(recent); i++ {
		assert.Equal(t, recent[i].Hash, recent[i-1].PrevHash, "newest first links back")
		assert.True(t, recent[i-1].Timestamp.After(recent[i].Timestamp), "timestamps follow the chain")
	}

	since, err := s.Since(ctx, recent[len(recent)-1].ID, -1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(since), writers-1)
}

func TestPgStore_VerifyChainReadsJSONB(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()

	e, err := s.Append(ctx, TypeTaskCreated, "jsonb", "", map[string]any{
		"title":  "spaced  out",
		"n":      uint64(12345678901234567890),
		"nested": map[string]any{"b": 1, "a": []any{"x", nil}},
	})
	require.NoError(t, err)
	require.NoError(t, s.VerifyChain(ctx))

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Hash, got.Hash)
	assert.Equal(t, "spaced  out", got.Content["title"])
}
