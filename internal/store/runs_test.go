package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := OpenRunStore(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// Deterministic, strictly increasing clock.
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestOpenRunStore_CreatesDB(t *testing.T) {
	root := filepath.Join(t.TempDir(), "results")
	s, err := OpenRunStore(context.Background(), root)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, filepath.Join(root, DBFile), s.Path())
	_, err = os.Stat(s.Path())
	assert.NoError(t, err)
}

func TestRunStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestRunStore(t)

	id, err := s.Start(ctx, RunRecord{
		Sweep:      "stim",
		Folder:     "b5_stim0.001_V1",
		Regions:    []string{"V1"},
		Amplitudes: []float64{0.001},
		B:          5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Nil(t, rec.FinishedAt)
	assert.Equal(t, []string{"V1"}, rec.Regions)
	assert.Equal(t, []float64{0.001}, rec.Amplitudes)

	ok, err := s.Succeeded(ctx, "stim", "b5_stim0.001_V1")
	require.NoError(t, err)
	assert.False(t, ok, "running run is not succeeded")

	require.NoError(t, s.Finish(ctx, id, StatusSucceeded, "ignored"))

	rec, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Empty(t, rec.Error)
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, time.Second, rec.Duration())

	ok, err = s.Succeeded(ctx, "stim", "b5_stim0.001_V1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Succeeded(ctx, "other", "b5_stim0.001_V1")
	require.NoError(t, err)
	assert.False(t, ok, "success is scoped to the sweep")
}

func TestRunStore_FailedRun(t *testing.T) {
	ctx := context.Background()
	s := newTestRunStore(t)

	id, err := s.Start(ctx, RunRecord{Sweep: "stim", Folder: "b5_stim0_V1", B: 5})
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, id, StatusFailed, "engine exited 1"))

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "engine exited 1", rec.Error)
	assert.Empty(t, rec.Regions)

	ok, err := s.Succeeded(ctx, "stim", "b5_stim0_V1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunStore_FinishErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestRunStore(t)

	err := s.Finish(ctx, "nope", StatusSucceeded, "")
	assert.True(t, errors.Is(err, ErrRunNotFound), "got %v", err)

	id, err := s.Start(ctx, RunRecord{Sweep: "s", Folder: "f"})
	require.NoError(t, err)
	assert.Error(t, s.Finish(ctx, id, StatusRunning, ""))

	_, err = s.Get(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestRunStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestRunStore(t)

	for _, r := range []RunRecord{
		{Sweep: "a", Folder: "one"},
		{Sweep: "b", Folder: "two"},
		{Sweep: "a", Folder: "three"},
	} {
		_, err := s.Start(ctx, r)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{all[0].Folder, all[1].Folder, all[2].Folder})

	onlyA, err := s.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "three", onlyA[1].Folder)
}

func TestRunStore_ExplicitID(t *testing.T) {
	ctx := context.Background()
	s := newTestRunStore(t)

	id, err := s.Start(ctx, RunRecord{ID: "fixed", Sweep: "s", Folder: "f"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	_, err = s.Start(ctx, RunRecord{ID: "fixed", Sweep: "s", Folder: "g"})
	assert.Error(t, err, "duplicate id")
}

func TestRunStore_Reopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := OpenRunStore(ctx, root)
	require.NoError(t, err)
	id, err := s.Start(ctx, RunRecord{Sweep: "s", Folder: "f"})
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, id, StatusSucceeded, ""))
	require.NoError(t, s.Close())

	s, err = OpenRunStore(ctx, root)
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.Succeeded(ctx, "s", "f")
	require.NoError(t, err)
	assert.True(t, ok)
}
