package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/marketd/internal/testing"
)

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "jobs")
	t.Cleanup(cleanup)
	return NewJobStore(db, zerolog.Nop())
}

func TestJobStoreSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lastRun := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	state := jobState{
		ID:           "update_stock_daily",
		Spec:         DailyBarsSpec,
		RunOnStart:   true,
		Paused:       false,
		LastRun:      lastRun,
		NextRun:      lastRun.Add(24 * time.Hour),
		MisfireGrace: MisfireGrace,
	}
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx, "update_stock_daily")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, state.ID, got.ID)
	assert.Equal(t, state.Spec, got.Spec)
	assert.True(t, got.RunOnStart)
	assert.False(t, got.Paused)
	assert.True(t, got.LastRun.Equal(lastRun))
	assert.True(t, got.NextRun.Equal(state.NextRun))
	assert.Equal(t, MisfireGrace, got.MisfireGrace)
}

func TestJobStoreGetAbsent(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "no_such_job")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJobStoreSaveReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := jobState{ID: "database_backup", Spec: BackupSpec}
	require.NoError(t, store.Save(ctx, state))

	state.Paused = true
	state.LastRun = time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx, "database_backup")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Paused)
	assert.True(t, got.LastRun.Equal(state.LastRun))

	states, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

func TestJobStoreLoadOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, jobState{ID: "update_stock_daily", Spec: DailyBarsSpec}))
	require.NoError(t, store.Save(ctx, jobState{ID: "database_backup", Spec: BackupSpec}))
	require.NoError(t, store.Save(ctx, jobState{ID: "update_industry_info", Spec: IndustrySpec}))

	states, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "database_backup", states[0].ID)
	assert.Equal(t, "update_industry_info", states[1].ID)
	assert.Equal(t, "update_stock_daily", states[2].ID)
}

func TestJobStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, jobState{ID: "update_stock_basic_info", Spec: BasicInfoSpec}))
	require.NoError(t, store.Delete(ctx, "update_stock_basic_info"))

	got, err := store.Get(ctx, "update_stock_basic_info")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent record is not an error.
	require.NoError(t, store.Delete(ctx, "update_stock_basic_info"))
}

func TestJobStoreRunHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	firstID, err := store.RecordRunStart(ctx, "update_stock_daily", first)
	require.NoError(t, err)
	require.NoError(t, store.RecordRunFinish(ctx, firstID, first.Add(time.Minute), true, ""))

	secondID, err := store.RecordRunStart(ctx, "update_stock_daily", second)
	require.NoError(t, err)
	require.NoError(t, store.RecordRunFinish(ctx, secondID, second.Add(time.Minute), false, "upstream unavailable"))

	// History for other jobs must not leak in.
	otherID, err := store.RecordRunStart(ctx, "database_backup", first)
	require.NoError(t, err)
	require.NoError(t, store.RecordRunFinish(ctx, otherID, first.Add(time.Minute), true, ""))

	runs, err := store.Runs(ctx, "update_stock_daily", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.True(t, runs[0].StartedAt.Equal(second))
	assert.False(t, runs[0].OK)
	assert.Equal(t, "upstream unavailable", runs[0].Error)
	assert.True(t, runs[1].StartedAt.Equal(first))
	assert.True(t, runs[1].OK)
	assert.Empty(t, runs[1].Error)

	limited, err := store.Runs(ctx, "update_stock_daily", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.True(t, limited[0].StartedAt.Equal(second))
}

func TestJobStoreUnfinishedRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	_, err := store.RecordRunStart(ctx, "update_stock_daily", started)
	require.NoError(t, err)

	runs, err := store.Runs(ctx, "update_stock_daily", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.False(t, runs[0].OK)
}
