package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *SQLiteRepository {
	t.Helper()

	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

// TestBeginFinishGet persists a run through its lifecycle.
func TestBeginFinishGet(t *testing.T) {
	t.Parallel()

	repo := openTemp(t)
	ctx := context.Background()
	started := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)

	require.NoError(t, repo.Begin(ctx, Entry{
		ID:          "run-1",
		Project:     "MyGame",
		Target:      "mac-dev",
		Platform:    "macOS",
		BuildNumber: 7,
		ArtifactURL: "https://cdn/game.zip",
		StartedAt:   started,
	}))

	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
	require.True(t, got.FinishedAt.IsZero())
	require.True(t, started.Equal(got.StartedAt))

	finished := started.Add(time.Minute)
	require.NoError(t, repo.Finish(ctx, "run-1", Outcome{
		Status:        StatusSucceeded,
		ArchivePath:   "output/archives/a.zip",
		ArchiveDigest: "abc",
		FinishedAt:    finished,
	}))

	got, err = repo.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, "abc", got.ArchiveDigest)
	require.True(t, finished.Equal(got.FinishedAt))
	require.Equal(t, 7, got.BuildNumber)
}

// TestFinish_Unknown reports a missing row.
func TestFinish_Unknown(t *testing.T) {
	t.Parallel()

	repo := openTemp(t)

	err := repo.Finish(context.Background(), "nope", Outcome{Status: StatusFailed})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestBegin_DuplicateID rejects reusing an id.
func TestBegin_DuplicateID(t *testing.T) {
	t.Parallel()

	repo := openTemp(t)
	e := Entry{ID: "dup", Project: "p", Target: "t", Platform: "Windows", ArtifactURL: "u"}

	require.NoError(t, repo.Begin(context.Background(), e))
	require.Error(t, repo.Begin(context.Background(), e))
}

// TestOpen_EmptyPath refuses an empty path.
func TestOpen_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
