package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herd/internal/storage"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Second)

	errMsg := "boom"
	require.NoError(t, j.Record(ctx, Entry{
		JobID: "a", Type: "trade", Status: StatusSucceeded,
		Constraints: []string{"profit"}, Workers: []int{0},
		StartedAt: start, CompletedAt: start.Add(100 * time.Millisecond),
	}))
	require.NoError(t, j.Record(ctx, Entry{
		JobID: "b", Type: "trade", Status: StatusFailed, Multi: true,
		Workers: []int{2, 0}, LastError: &errMsg,
		StartedAt: start, CompletedAt: start.Add(200 * time.Millisecond),
	}))

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "b", got[0].JobID)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.True(t, got[0].Multi)
	assert.Equal(t, []int{2, 0}, got[0].Workers)
	assert.Equal(t, []string{}, got[0].Constraints)
	require.NotNil(t, got[0].LastError)
	assert.Equal(t, "boom", *got[0].LastError)

	assert.Equal(t, "a", got[1].JobID)
	assert.Nil(t, got[1].LastError)
	assert.Equal(t, []string{"profit"}, got[1].Constraints)

	one, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestRecordTruncatesError(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	long := strings.Repeat("x", maxErrorBytes+100)
	now := time.Now()
	require.NoError(t, j.Record(context.Background(), Entry{
		JobID: "a", Type: "t", Status: StatusFailed, LastError: &long, StartedAt: now, CompletedAt: now,
	}))

	got, err := j.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, *got[0].LastError, maxErrorBytes)
}

func TestRecordRequiresID(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	assert.Error(t, j.Record(context.Background(), Entry{}))
}

func TestPrune(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, j.Record(ctx, Entry{JobID: "old", Type: "t", Status: StatusSucceeded, StartedAt: old, CompletedAt: old}))
	require.NoError(t, j.Record(ctx, Entry{JobID: "new", Type: "t", Status: StatusSucceeded, StartedAt: time.Now(), CompletedAt: time.Now()}))

	n, err := j.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].JobID)
}

func TestGet(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, j.Record(ctx, Entry{
		JobID: "a", Type: "trade", Status: StatusRejected, Constraints: []string{"budget"},
		StartedAt: now, CompletedAt: now,
	}))

	e, err := j.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, e.Status)
	assert.Equal(t, []string{"budget"}, e.Constraints)
	assert.Equal(t, []int{}, e.Workers)

	_, err = j.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
