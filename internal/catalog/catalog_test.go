package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_RecordAndRecent(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	started := time.Date(2020, 10, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.Record(ctx, Record{
		DeviceID: "dev1", FileNum: 1, Name: "a.jpg", Size: 100, Chunks: 3,
		ExpectedDigest: "h", ActualDigest: "x", Outcome: OutcomeMismatch,
		StartedAt: started, FinishedAt: started.Add(time.Minute),
	}))
	require.NoError(t, c.Record(ctx, Record{
		DeviceID: "dev1", FileNum: 2, Name: "b.jpg", Path: "/data/dev1/b.jpg", Size: 100, Chunks: 3,
		ExpectedDigest: "h", ActualDigest: "h", Outcome: OutcomeSaved,
		StartedAt: started, FinishedAt: started.Add(2 * time.Minute),
	}))
	require.NoError(t, c.Record(ctx, Record{DeviceID: "dev2", FileNum: 9, Name: "c.jpg", Outcome: OutcomeSaved}))

	recs, err := c.Recent(ctx, "dev1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, 2, recs[0].FileNum)
	assert.Equal(t, OutcomeSaved, recs[0].Outcome)
	assert.Equal(t, "/data/dev1/b.jpg", recs[0].Path)
	assert.True(t, recs[0].FinishedAt.Equal(started.Add(2*time.Minute)))

	assert.Equal(t, 1, recs[1].FileNum)
	assert.Equal(t, OutcomeMismatch, recs[1].Outcome)
	assert.Equal(t, "x", recs[1].ActualDigest)
}

func TestCatalog_RecentLimit(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Record(ctx, Record{DeviceID: "dev1", FileNum: i, Outcome: OutcomeSaved}))
	}
	recs, err := c.Recent(ctx, "dev1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 4, recs[0].FileNum)
	assert.Equal(t, 3, recs[1].FileNum)
}

func TestCatalog_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	c, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.Record(ctx, Record{DeviceID: "dev1", FileNum: 1, Outcome: OutcomeSaved}))
	require.NoError(t, c.Close())

	c, err = Open(ctx, path)
	require.NoError(t, err)
	defer c.Close()
	recs, err := c.Recent(ctx, "dev1", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
