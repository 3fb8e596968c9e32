package state

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Journal {
	t.Helper()
	opts := DefaultOptions(":memory:")
	opts.CleanupInterval = 0
	j, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func txn(id string, at time.Time, errMsg string) Txn {
	return Txn{
		ID:         id,
		Source:     "test",
		Started:    at,
		Finished:   at.Add(50 * time.Millisecond),
		Groups:     2,
		Interfaces: 1,
		Changes:    3,
		HWCalls:    9,
		Error:      errMsg,
	}
}

func TestJournal_RecordAndList(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := j.Last(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, j.Record(ctx, txn("a", base, "")))
	require.NoError(t, j.Record(ctx, txn("b", base.Add(time.Minute), "commit failed")))

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID, "newest first")
	assert.Equal(t, "a", all[1].ID)

	last, err := j.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", last.ID)
	assert.False(t, last.OK())
	assert.Equal(t, "commit failed", last.Error)

	got, err := j.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.OK())
	assert.True(t, base.Equal(got.Started))
	assert.Equal(t, 50*time.Millisecond, got.Duration())
	assert.Equal(t, 2, got.Groups)
	assert.Equal(t, 1, got.Interfaces)
	assert.Equal(t, 3, got.Changes)
	assert.Equal(t, 9, got.HWCalls)

	_, err = j.Get(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)

	one, err := j.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	v, err := j.Metadata("last_txn")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	_, err = j.Metadata("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_DuplicateID(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, j.Record(ctx, txn("a", now, "")))
	assert.Error(t, j.Record(ctx, txn("a", now, "")))
}

func TestJournal_Prune(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, txn("old", base, "")))
	require.NoError(t, j.Record(ctx, txn("new", base.Add(48*time.Hour), "")))

	n, err := j.Prune(base.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].ID)
}

func TestJournal_Subscribe(t *testing.T) {
	j := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := j.Subscribe(ctx)

	require.NoError(t, j.Record(context.Background(), txn("a", time.Now(), "")))
	select {
	case got := <-ch:
		assert.Equal(t, "a", got.ID)
	case <-time.After(time.Second):
		t.Fatal("no transaction delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestJournal_FileBackedReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, txn("a", time.Now(), "")))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "close is idempotent")

	assert.ErrorIs(t, j.Record(ctx, txn("b", time.Now(), "")), ErrStoreClosed)
	_, err = j.List(ctx, 0)
	assert.ErrorIs(t, err, ErrStoreClosed)

	j2, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	defer j2.Close()
	last, err := j2.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", last.ID)
}

func TestDatetimeFunc(t *testing.T) {
	v, err := datetimeFunc(nil, []driver.Value{"now"})
	require.NoError(t, err)
	_, err = time.Parse("2006-01-02 15:04:05", v.(string))
	assert.NoError(t, err)

	v, err = datetimeFunc(nil, []driver.Value{"2020-01-01"})
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01", v)
}
